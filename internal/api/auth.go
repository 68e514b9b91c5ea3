package api

import (
	"context"
	"fmt"

	"github.com/nhle/ticketdesk/internal/model"
)

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the payload for POST /auth/register.
type RegisterRequest struct {
	Name     string     `json:"name" validate:"required"`
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=6"`
	Role     model.Role `json:"role" validate:"required,oneof=employee developer admin"`
}

// AuthResponse is returned by both auth endpoints.
type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Session converts the response into the identity persisted locally.
func (r *AuthResponse) Session() model.Session {
	u := r.User
	return model.Session{Token: r.Token, User: &u}
}

// Login exchanges credentials for a bearer token and user record.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	var resp AuthResponse
	if err := c.post(ctx, "/auth/login", req, &resp); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("client.Login: response carried no token")
	}
	return &resp, nil
}

// Register creates an account. Some deployments sign the new user in
// directly, in which case the response carries a token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.Role == "" {
		req.Role = model.RoleEmployee
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	var resp AuthResponse
	if err := c.post(ctx, "/auth/register", req, &resp); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	return &resp, nil
}

// ListUsers returns the users tickets can be assigned to.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.get(ctx, "/users", &users); err != nil {
		return nil, fmt.Errorf("client.ListUsers: %w", err)
	}
	return users, nil
}
