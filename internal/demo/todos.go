package demo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/instrument"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// MaxTodos caps how many todos ListTodos returns.
const MaxTodos = 5

// ErrUpstream wraps non-2xx answers from the todo API.
var ErrUpstream = errors.New("todo api error")

// Todo is an item from the external todo API.
type Todo struct {
	ID        int    `json:"id"`
	UserID    int    `json:"userId"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// RemoteUser is a user profile from the external API.
type RemoteUser struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TodoClient calls the external todo API through the traced HTTP client.
type TodoClient struct {
	http *resty.Client
}

// NewTodoClient returns a client for baseURL.
func NewTodoClient(baseURL string, timeout time.Duration, tracer *tracing.Tracer, opts ...instrument.Option) *TodoClient {
	return &TodoClient{
		http: instrument.NewHTTPClient(tracer, instrument.ClientConfig{
			BaseURL:    baseURL,
			Timeout:    timeout,
			RetryCount: 1,
		}, opts...),
	}
}

// ListTodos returns the first MaxTodos todos, filtered by userID when it is
// positive.
func (c *TodoClient) ListTodos(ctx context.Context, userID int) ([]Todo, error) {
	var todos []Todo
	req := c.request(ctx).SetResult(&todos)
	if userID > 0 {
		req.SetQueryParam("userId", strconv.Itoa(userID))
	}
	resp, err := req.Get("/todos")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	if len(todos) > MaxTodos {
		todos = todos[:MaxTodos]
	}
	return todos, nil
}

// GetUser fetches a user profile.
func (c *TodoClient) GetUser(ctx context.Context, id int) (*RemoteUser, error) {
	var u RemoteUser
	resp, err := c.request(ctx).
		SetResult(&u).
		SetPathParam("id", strconv.Itoa(id)).
		Get("/users/{id}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &u, nil
}

// request decodes bodies as JSON whatever Content-Type the upstream sends.
func (c *TodoClient) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).ForceContentType("application/json")
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s", ErrUpstream, resp.Status())
	}
	return nil
}
