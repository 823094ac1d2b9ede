package httpapi

import (
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

const birthdayLayout = "2006-01-02"

type registerRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required"`
	FirstName    string `json:"first_name" binding:"max=100"`
	LastName     string `json:"last_name" binding:"max=100"`
	PaternalName string `json:"paternal_name" binding:"max=100"`
	PhoneNumber  string `json:"phone_number" binding:"omitempty,e164"`
	Birthday     string `json:"birthday" binding:"omitempty,datetime=2006-01-02"`
}

func (r registerRequest) profile() models.Profile {
	p := models.Profile{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PaternalName: r.PaternalName,
		PhoneNumber:  r.PhoneNumber,
	}
	if b, err := time.Parse(birthdayLayout, r.Birthday); err == nil {
		p.Birthday = &b
	}
	return p
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type confirmEmailQuery struct {
	Email string `form:"email" binding:"required,email"`
	Token string `form:"token" binding:"required"`
}

type listUsersQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

type userIDParam struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}

type userResponse struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	PaternalName   string     `json:"paternal_name,omitempty"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	Birthday       string     `json:"birthday,omitempty"`
	EmailConfirmed bool       `json:"email_confirmed"`
	Banned         bool       `json:"banned"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

func newUserResponse(u *models.User) userResponse {
	r := userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Role:           u.Role,
		FirstName:      u.FirstName.String,
		LastName:       u.LastName.String,
		PaternalName:   u.PaternalName.String,
		PhoneNumber:    u.PhoneNumber.String,
		EmailConfirmed: u.EmailConfirmed,
		Banned:         u.Banned,
		CreatedAt:      u.CreatedAt,
	}
	if u.Birthday.Valid {
		r.Birthday = u.Birthday.Time.Format(birthdayLayout)
	}
	if u.LastActivity.Valid {
		t := u.LastActivity.Time
		r.LastActivity = &t
	}
	return r
}

type sessionResponse struct {
	User             *userResponse `json:"user,omitempty"`
	AccessToken      string        `json:"access_token"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	RefreshToken     string        `json:"refresh_token"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
}

func newSessionResponse(u *models.User, p *tokens.Pair) sessionResponse {
	r := sessionResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
	if u != nil {
		ur := newUserResponse(u)
		r.User = &ur
	}
	return r
}

type messageResponse struct {
	Message string `json:"message"`
}
