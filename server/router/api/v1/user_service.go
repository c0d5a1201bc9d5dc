package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/productsense/store"
)

// User is the wire form of a shopper profile.
type User struct {
	ID                   int32    `json:"id"`
	FirstName            string   `json:"first_name"`
	Gender               string   `json:"gender"`
	Age                  int32    `json:"age"`
	Location             string   `json:"location"`
	Hobbies              []string `json:"hobbies"`
	LifestylePreferences []string `json:"lifestyle_preferences"`
	SearchHistory        []string `json:"search_history"`
}

func convertUserFromStore(u *store.User) User {
	return User{
		ID:                   u.ID,
		FirstName:            u.FirstName,
		Gender:               u.Gender,
		Age:                  u.Age,
		Location:             u.Location,
		Hobbies:              nonNil(u.Hobbies),
		LifestylePreferences: nonNil(u.LifestylePreferences),
		SearchHistory:        nonNil(u.SearchHistory),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (s *APIV1Service) ListUsers(c echo.Context) error {
	users, err := s.Store.ListUsers(c.Request().Context())
	if err != nil {
		return httpError(err, "failed to list users")
	}
	resp := make([]User, 0, len(users))
	for _, u := range users {
		resp = append(resp, convertUserFromStore(u))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetCurrentUser returns the profile named by X-User-ID.
func (s *APIV1Service) GetCurrentUser(c echo.Context) error {
	id, err := requireUserID(c)
	if err != nil {
		return err
	}
	return s.writeUser(c, id)
}

func (s *APIV1Service) GetUser(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	return s.writeUser(c, id)
}

func (s *APIV1Service) writeUser(c echo.Context, id int32) error {
	user, err := s.Store.GetUser(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "failed to get user")
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, convertUserFromStore(user))
}
