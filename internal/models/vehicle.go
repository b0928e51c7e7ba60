package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// Vehicle represents a fleet vehicle assigned to a site.
type Vehicle struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SiteID    string             `bson:"site_id" json:"site_id"`
	Plate     string             `bson:"plate" json:"plate"`
	Name      string             `bson:"name" json:"name"`
	Make      string             `bson:"make,omitempty" json:"make,omitempty"`
	Model     string             `bson:"model,omitempty" json:"model,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Site represents a physical branch that scopes technician and coordinator authority.
type Site struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
