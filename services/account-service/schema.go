package main

import (
	"context"

	"github.com/00Mars/pet-pawket-sub000/internal/db"
)

func (s *service) ensureSchema(ctx context.Context) error {
	return db.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS pets (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			name TEXT NOT NULL,
			species TEXT NOT NULL CHECK (species IN ('dog','cat','bird','fish','reptile','small_animal')),
			breed TEXT,
			size TEXT CHECK (size IN ('small','medium','large','giant')),
			birthdate DATE,
			weight_lbs DOUBLE PRECISION CHECK (weight_lbs >= 0),
			activity_level TEXT CHECK (activity_level IN ('low','moderate','high')),
			allergies JSONB NOT NULL DEFAULT '[]',
			flavors JSONB NOT NULL DEFAULT '[]',
			interests JSONB NOT NULL DEFAULT '[]',
			budget_min DOUBLE PRECISION CHECK (budget_min >= 0),
			budget_max DOUBLE PRECISION CHECK (budget_max >= 0),
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pets_customer_created ON pets (customer_id, created_at DESC, id DESC)`,

		`CREATE TABLE IF NOT EXISTS pet_journals (
			id TEXT PRIMARY KEY,
			pet_id TEXT NOT NULL REFERENCES pets(id) ON DELETE CASCADE,
			customer_id TEXT NOT NULL,
			title TEXT,
			body TEXT NOT NULL,
			mood TEXT CHECK (mood IN ('happy','calm','playful','anxious','tired','sick')),
			entry_date DATE NOT NULL,
			weight_lbs DOUBLE PRECISION CHECK (weight_lbs >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pet_journals_pet_date ON pet_journals (customer_id, pet_id, entry_date DESC, id DESC)`,

		`CREATE TABLE IF NOT EXISTS customer_addresses (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			label TEXT,
			first_name TEXT,
			last_name TEXT,
			line1 TEXT NOT NULL,
			line2 TEXT,
			city TEXT NOT NULL,
			province TEXT,
			postal_code TEXT,
			country TEXT NOT NULL CHECK (char_length(country) = 2),
			phone TEXT,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_customer_addresses_customer ON customer_addresses (customer_id, created_at DESC, id DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_customer_addresses_one_default ON customer_addresses (customer_id) WHERE is_default`,

		`CREATE TABLE IF NOT EXISTS wishlist_items (
			customer_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (customer_id, handle)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wishlist_items_created ON wishlist_items (customer_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS product_dislikes (
			customer_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (customer_id, handle)
		)`,
	)
}
