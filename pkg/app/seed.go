package app

import (
	"context"
	"errors"
	"log"

	"library-lending/pkg/apperr"
	"library-lending/pkg/inventory"
)

// Catalog is the demo catalog loaded by Seed.
var Catalog = []inventory.NewTitle{
	{ID: "f7cdc58f-2caf-4b15-9727-f89dcc629b27", Title: "The C++ Programming Language", Author: "Bjarne Stroustrup", Category: "programming", Copies: 3},
	{ID: "2b1f3c52-8f0e-4d4b-a1a5-7d5f9d8c6e01", Title: "Dune", Author: "Frank Herbert", Category: "science fiction", Copies: 2},
	{ID: "9c4e7a10-3b2d-4f6e-8a91-0c5d2e7b4f32", Title: "The Pragmatic Programmer", Author: "Andrew Hunt", Category: "programming", Copies: 1},
	{ID: "d3a8b6f4-5e71-4c09-b2d8-6f1e9a3c7b55", Title: "Pride and Prejudice", Author: "Jane Austen", Category: "classics", Copies: 2},
}

// Seed adds every title in titles that is not in the ledger yet. Existing
// titles are left as they are. It returns how many were added.
func Seed(ctx context.Context, l *inventory.Ledger, titles []inventory.NewTitle) (int, error) {
	added := 0
	for _, t := range titles {
		_, err := l.Get(ctx, t.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return added, err
		}
		b, err := l.AddTitle(ctx, t)
		if err != nil {
			log.Printf("[app] failed to seed %q: %v", t.Title, err)
			return added, err
		}
		log.Printf("[app] seeded %q with %d copies", b.Title, b.TotalCopies)
		added++
	}
	return added, nil
}
