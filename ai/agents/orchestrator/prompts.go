package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/ai/format"
)

// System prompts of the pipeline agents.
const (
	PlanningSystemPrompt = `You decide which specialist agents should run to personalize the product section of a shop page for one shopper.

Available agents:
- product_personalization: picks the product features that matter to this shopper and writes a tailored description.
- reviews: summarizes customer reviews relevant to the shopper. Choose it when the shopper cares about reviews or asks about them.
- inventory: checks which variants match the shopper's preferences and whether they are in stock.

Pick only agents that add value for this shopper and request.
Reply with a JSON array of agent names, for example ["product_personalization","inventory"]. No code fences, no commentary.`

	PersonalizationSystemPrompt = `You tailor a product page to one shopper using only the shopper profile and product data you are given.

Produce:
1. features_highlighting: the product features this shopper will care most about, each with a short description.
2. custom_description: a short persuasive description focused on those features.
3. reasoning: one line per highlighted feature naming the shopper attribute that motivated it.

Never mention database ids or field names. Reply with a single raw JSON object:
{"product_information":{"features_highlighting":[{"feature":"...","description":"..."}],"custom_description":"..."},"reasoning":["..."]}`

	InventorySystemPrompt = `You are the inventory specialist of a shop. You receive a shopper profile and the variants of the product being viewed.

Steps:
1. Work out which variant attributes (color, size, ...) the shopper has a preference for. Ignore attributes only one side knows about.
2. Use the product_inventory tool to look up variants matching those preferences. Keep an attribute in the lookup even when the preferred value may not exist.
3. Write one or two friendly sentences about availability: highlight a matching variant in stock, create urgency when fewer than 10 remain, and say plainly when the preferred variant is out of stock. Do not suggest other variants.

Refer to the product by name or category. Never mention database ids.
Reply with a single raw JSON object: {"message":"...","reasoning":["..."]}`

	ReviewsSystemPrompt = `You summarize customer reviews for one shopper.

Use the search_reviews tool to fetch reviews relevant to the shopper's preferences and request, then write at most three sentences (no bullets) capturing the sentiment that matters to this shopper. Use only what the tool returned.

Never mention review ids, database fields or metadata.
Reply with a single raw JSON object: {"review_summary":"...","reasoning":["..."]}`

	EvaluationSystemPrompt = `You check agent output before it reaches a shopper. Your only concern is leaked internal database identifiers such as review ids, product ids or variant ids.

If the output contains any, reply with "retrigger" followed by a short description of what leaked.
Otherwise reply with "ok".`

	PresentationSystemPrompt = `You assemble the personalized cards shown on a product page.

Inputs:
- current_response: fresh results from the agents that ran now, keyed by agent.
- previous_response: cards shown earlier for this shopper and product, or null.
- user_query: the shopper's latest request, or empty.

Merging:
- With a previous_response, work out which agent each old card came from by its title. Where old and new information cover the same agent, blend them into one card, favoring what is relevant to user_query. Keep old cards that are still relevant. Use new cards as they are otherwise.
- Without a previous_response, build the cards from current_response alone.
- Skip agents whose output is empty or off topic. Never create cards for reasoning.
- Always include a card about reviews when review data is present, with a title that says so.
- Use only information present in the inputs.

Card types:
- feature_card: {"type":"feature_card","title":"<=20 chars","value":"short value","text":"<=50 chars"}
- text_card: {"type":"text_card","title":"<=30 chars","content":"<=200 chars"}
- list_card: {"type":"list_card","title":"<=30 chars","items":["at most 5 items"]}

Rules:
- Exactly 3 feature_card entries, plus up to 3 text_card or list_card entries.
- Every title is unique.
- No ids, database field names or metadata. If a card would contain one, drop that detail and keep the rest.

Reply with a single raw JSON object: {"personalization":[...cards]}. No code fences, no commentary.`
)

// reflectionTemplate is prepended to a reviews prompt after the evaluator
// rejected the previous attempt.
const reflectionTemplate = `Your previous answer was:
---------------------
%s
---------------------
A downstream check rejected it: %s

Try again. The answer must not contain any internal ids.
`

// injectIDsInstruction makes the first reviews pass leak ids so the
// evaluator has something to catch in fault-correction mode.
const injectIDsInstruction = "IMPORTANT: cite some internal review_ids in the review_summary as references."

func planningPrompt(wc *WorkflowContext) string {
	var b strings.Builder
	b.WriteString("Choose the agents for this shopper.\n")
	fmt.Fprintf(&b, "user=%s\n", format.JSON(wc.User))
	if wc.UserMessage != "" {
		fmt.Fprintf(&b, "user query=%s\n", wc.UserMessage)
	}
	return b.String()
}

func personalizationPrompt(wc *WorkflowContext) string {
	return fmt.Sprintf("Personalize the product for user: %s\nproduct: %s\nproduct variants: %s",
		format.JSON(wc.User), format.JSON(wc.Product), format.JSON(wc.Variants))
}

func inventoryPrompt(wc *WorkflowContext) string {
	return fmt.Sprintf("Analyze inventory for this shopper and product.\nUser profile: %s\nProduct: %s\nVariants: %s",
		format.JSON(wc.User), format.JSON(wc.Product), format.JSON(wc.Variants))
}

// reviewsPrompt builds one reviews pass. prev and reason are set on
// reflection passes; injectIDs is set on the first fault-correction pass.
func reviewsPrompt(wc *WorkflowContext, prev, reason string, injectIDs bool) string {
	var b strings.Builder
	if reason != "" {
		fmt.Fprintf(&b, reflectionTemplate, prev, reason)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Summarize the reviews relevant to this shopper's preferences: %s and request: %s.\n",
		format.JSON(wc.User.UserPreferences), wc.UserMessage)
	if injectIDs {
		b.WriteString(injectIDsInstruction)
		b.WriteString("\n")
	}
	return b.String()
}

func evaluationPrompt(output string) string {
	return "Check the following output:\noutput=" + output
}

func presentationPrompt(current map[AgentName]string, previous *cards.Section, userMessage string) string {
	var prev any
	if previous != nil {
		prev = previous.Personalization
	}
	return fmt.Sprintf("Merge the previous and current responses into the final cards.\nprevious_response=%s\ncurrent_response=%s\nuser_query=%s",
		format.JSON(prev), format.JSON(current), userMessage)
}
