package scripts

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a script does not exist or belongs to
// somebody else.
var ErrNotFound = errors.New("script not found")

type Script struct {
	ID                  primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID              string             `json:"-" bson:"user_id"`
	Name                string             `json:"name" bson:"name"`
	Description         string             `json:"description" bson:"description"`
	Script              string             `json:"script" bson:"script"`
	OriginalDescription string             `json:"originalDescription" bson:"original_description"`
	CreatedAt           time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt           time.Time          `json:"updatedAt" bson:"updated_at"`
}

type GenerateRequest struct {
	Description string `json:"description"`
}

type GenerateResponse struct {
	Script string `json:"script"`
}

type SaveRequest struct {
	Name                string `json:"name" validate:"required,max=100"`
	Description         string `json:"description" validate:"max=500"`
	Script              string `json:"script" validate:"required"`
	OriginalDescription string `json:"originalDescription" validate:"max=1000"`
}

type SaveResponse struct {
	ScriptID string `json:"scriptId"`
}

type UpdateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type DownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
