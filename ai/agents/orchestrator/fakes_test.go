package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/ai/memory"
	"github.com/hrygo/productsense/store"
)

const validCardsJSON = `{"personalization":[
	{"type":"feature_card","title":"Trail Ready","value":"480g","text":"Light enough to pack for long hikes"},
	{"type":"feature_card","title":"Eco Materials","value":"Recycled","text":"Aluminium body from recycled stock"},
	{"type":"feature_card","title":"Low Stock","value":"4 left","text":"Forest Green is almost gone"},
	{"type":"text_card","title":"Why it suits you","content":"Reads well outdoors and lasts a weekend away."}
]}`

// fakeAgent records prompts and answers with fn.
type fakeAgent struct {
	name AgentName
	fn   func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func newFakeAgent(name AgentName, fn func(ctx context.Context, prompt string) (string, error)) *fakeAgent {
	return &fakeAgent{name: name, fn: fn}
}

func (a *fakeAgent) Name() AgentName { return a.name }

func (a *fakeAgent) Run(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.mu.Unlock()
	return a.fn(ctx, prompt)
}

func (a *fakeAgent) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

func reply(text string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return text, nil }
}

func blockUntilDone(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type sectionKey struct{ productID, userID int32 }

// fakeData is an in-memory DataSource.
type fakeData struct {
	mu       sync.Mutex
	users    map[int32]*store.User
	products map[int32]*store.Product
	variants map[int32][]*store.Variant
	sections map[sectionKey]*store.PersonalizedSection
	upserts  []store.PersonalizedSection
	spans    []*store.TraceSpan
}

func newFakeData() *fakeData {
	return &fakeData{
		users: map[int32]*store.User{
			1: {
				ID:                   1,
				FirstName:            "Maya",
				Gender:               "female",
				Age:                  29,
				Hobbies:              []string{"hiking"},
				LifestylePreferences: []string{"eco-friendly"},
			},
		},
		products: map[int32]*store.Product{
			7: {ID: 7, Name: "Slate 11", Category: "tablets", Price: 499, Brand: "Northwind"},
		},
		variants: map[int32][]*store.Variant{
			7: {{
				ID: 70, ProductID: 7, Price: 499, StockCount: 4,
				Attributes: []store.VariantAttribute{{Name: "Color", Value: "Forest Green"}},
			}},
		},
		sections: map[sectionKey]*store.PersonalizedSection{},
	}
}

func (d *fakeData) GetUser(_ context.Context, id int32) (*store.User, error) {
	return d.users[id], nil
}

func (d *fakeData) GetProduct(_ context.Context, id int32) (*store.Product, error) {
	return d.products[id], nil
}

func (d *fakeData) ListVariants(_ context.Context, productID int32) ([]*store.Variant, error) {
	return d.variants[productID], nil
}

func (d *fakeData) GetPersonalizedSection(_ context.Context, productID, userID int32) (*store.PersonalizedSection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sections[sectionKey{productID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (d *fakeData) UpsertPersonalizedSection(_ context.Context, upsert *store.PersonalizedSection) (*store.PersonalizedSection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upserts = append(d.upserts, *upsert)
	key := sectionKey{upsert.ProductID, upsert.UserID}
	row := *upsert
	if row.Personalization == nil {
		if prev, ok := d.sections[key]; ok {
			row.Personalization = prev.Personalization
		}
	}
	d.sections[key] = &row
	cp := row
	return &cp, nil
}

func (d *fakeData) CreateTraceSpans(_ context.Context, spans []*store.TraceSpan) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spans = append(d.spans, spans...)
	return nil
}

func (d *fakeData) lastUpsert(t *testing.T) store.PersonalizedSection {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.upserts)
	return d.upserts[len(d.upserts)-1]
}

func (d *fakeData) spanNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.spans))
	for _, s := range d.spans {
		names = append(names, s.Name)
	}
	return names
}

func (d *fakeData) seedSection(t *testing.T, productID, userID int32, raw string) {
	t.Helper()
	require.True(t, json.Valid([]byte(raw)))
	d.sections[sectionKey{productID, userID}] = &store.PersonalizedSection{
		ProductID:       productID,
		UserID:          userID,
		Personalization: json.RawMessage(raw),
		Status:          store.SectionStatusDone,
	}
}

// fakeMemory returns canned memories.
type fakeMemory struct {
	mu       sync.Mutex
	added    []memory.Memory
	recalled []memory.Memory
	messages []string
}

func (m *fakeMemory) Add(_ context.Context, _ int32, message string) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.added, nil
}

func (m *fakeMemory) Search(context.Context, int32, string, int) ([]memory.Memory, error) {
	return m.recalled, nil
}

// harness wires an Orchestrator over fakes with well-behaved defaults.
type harness struct {
	data   *fakeData
	memory *fakeMemory

	planner         *fakeAgent
	personalization *fakeAgent
	reviews         *fakeAgent
	inventory       *fakeAgent
	evaluation      *fakeAgent
	presentation    *fakeAgent
}

func newHarness() *harness {
	return &harness{
		data:            newFakeData(),
		memory:          &fakeMemory{},
		planner:         newFakeAgent(AgentPlanning, reply(`[]`)),
		personalization: newFakeAgent(AgentPersonalization, reply("Highlight the 480g weight and recycled body.")),
		reviews:         newFakeAgent(AgentReviews, reply("Reviewers praise the outdoor screen.")),
		inventory:       newFakeAgent(AgentInventory, reply("Forest Green matches the eco preference, 4 left.")),
		evaluation:      newFakeAgent(AgentEvaluation, reply("ok")),
		presentation:    newFakeAgent(AgentPresentation, reply(validCardsJSON)),
	}
}

func (h *harness) build(t *testing.T, config Config) *Orchestrator {
	t.Helper()
	o, err := New(h.data, h.memory, Agents{
		Planner:         h.planner,
		Personalization: h.personalization,
		Reviews:         h.reviews,
		Inventory:       h.inventory,
		Evaluation:      h.evaluation,
		Presentation:    h.presentation,
	}, config, nil)
	require.NoError(t, err)
	return o
}
