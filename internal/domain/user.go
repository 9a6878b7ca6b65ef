package domain

import "time"

type User struct {
	UserID        string     `json:"id" dynamodbav:"user_id"`
	Email         string     `json:"email" dynamodbav:"email"`
	FullName      string     `json:"full_name" dynamodbav:"full_name"`
	PasswordHash  string     `json:"-" dynamodbav:"password_hash"`
	EmailVerified bool       `json:"email_verified" dynamodbav:"email_verified"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" dynamodbav:"deleted_at,omitempty"`
	CreatedAt     time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time  `json:"updated" dynamodbav:"updated_at"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
