package models

import "time"

type Memorial struct {
	MemorialID string     `db:"memorial_id" json:"id"`
	OwnerID    string     `db:"owner_id" json:"ownerId"`
	Slug       string     `db:"slug" json:"slug"`
	FullName   string     `db:"full_name" json:"fullName"`
	BirthDate  *time.Time `db:"birth_date" json:"birthDate,omitempty"`
	DeathDate  *time.Time `db:"death_date" json:"deathDate,omitempty"`
	Biography  string     `db:"biography" json:"biography"`
	Epitaph    string     `db:"epitaph" json:"epitaph"`
	IsPublic   bool       `db:"is_public" json:"isPublic"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}
