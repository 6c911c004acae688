package repository

import "database/sql"

// Store bundles the repositories a service needs.
type Store struct {
	Campaigns  CampaignRepositoryInterface
	Batches    BatchRepositoryInterface
	Recipients RecipientRepositoryInterface
	TestUsers  TestUserRepositoryInterface
	Schools    SchoolRepositoryInterface
}

func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Campaigns:  &CampaignRepository{DB: db},
		Batches:    &BatchRepository{DB: db},
		Recipients: &RecipientRepository{DB: db},
		TestUsers:  &TestUserRepository{DB: db},
		Schools:    &SchoolRepository{DB: db},
	}
}

// NewMemoryBackedStore returns a Store whose repositories all share one
// MemoryStore, for local runs and tests.
func NewMemoryBackedStore() (*Store, *MemoryStore) {
	m := NewMemoryStore()
	return &Store{
		Campaigns:  m,
		Batches:    m,
		Recipients: m,
		TestUsers:  m,
		Schools:    m,
	}, m
}
