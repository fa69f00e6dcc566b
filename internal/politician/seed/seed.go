// Package seed loads politicians and their promises from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
	pstrings "politikcred/pkg/platform/strings"
)

const defaultBatchSize = 50

// File is the seed document layout.
type File struct {
	Politicians []Entry `yaml:"politicians"`
}

type Entry struct {
	Name      string         `yaml:"name"`
	FirstName string         `yaml:"first_name"`
	LastName  string         `yaml:"last_name"`
	Party     string         `yaml:"party"`
	Position  string         `yaml:"position"`
	Sources   []string       `yaml:"sources"`
	Promises  []PromiseEntry `yaml:"promises"`
}

type PromiseEntry struct {
	Content   string    `yaml:"content"`
	Keywords  []string  `yaml:"keywords"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Store is the write side the seeder needs.
type Store interface {
	Create(ctx context.Context, p *domain.Politician) error
	CreatePromise(ctx context.Context, p *domain.Promise) error
	DedupeKeys(ctx context.Context) (map[string]struct{}, error)
}

// TxRunner runs fn atomically. Nil means each write stands alone.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Result counts what a seed run did.
type Result struct {
	Read       int `json:"read"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
}

type Seeder struct {
	store     Store
	runInTx   TxRunner
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Seeder)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Seeder) { s.logger = logger }
}

func WithTx(runner TxRunner) Option {
	return func(s *Seeder) { s.runInTx = runner }
}

func WithBatchSize(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Seeder) { s.now = now }
}

func New(store Store, opts ...Option) *Seeder {
	s := &Seeder{
		store:     store,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decode parses a seed document.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &f, nil
}

type record struct {
	politician *domain.Politician
	promises   []*domain.Promise
}

// Seed cleans, dedupes and inserts the entries. Batches are written in one
// transaction; a failing batch is retried row by row so one bad row does
// not drop its neighbours.
func (s *Seeder) Seed(ctx context.Context, f *File) (Result, error) {
	res := Result{Read: len(f.Politicians)}

	existing, err := s.store.DedupeKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("load existing politicians: %w", err)
	}

	now := s.now().UTC()
	var records []record
	for _, e := range f.Politicians {
		rec, ok := s.clean(e, now)
		if !ok {
			res.Invalid++
			continue
		}
		key := rec.politician.DedupeKey()
		if _, dup := existing[key]; dup {
			res.Duplicates++
			continue
		}
		existing[key] = struct{}{}
		records = append(records, rec)
	}

	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		batch := records[start:end]
		if s.runInTx != nil {
			err := s.runInTx(ctx, func(ctx context.Context) error {
				for _, rec := range batch {
					if err := s.insertRecord(ctx, rec); err != nil {
						return err
					}
				}
				return nil
			})
			if err == nil {
				res.Inserted += len(batch)
				s.logger.InfoContext(ctx, "seed batch inserted", "batch", start/s.batchSize+1, "count", len(batch))
				continue
			}
			s.logger.WarnContext(ctx, "seed batch failed, retrying row by row",
				"batch", start/s.batchSize+1,
				"error", err,
			)
		}
		for _, rec := range batch {
			if err := s.insertOne(ctx, rec); err != nil {
				if errors.Is(err, sentinel.ErrAlreadyUsed) {
					res.Duplicates++
					continue
				}
				res.Failed++
				s.logger.ErrorContext(ctx, "seed row failed",
					"name", rec.politician.Name,
					"error", err,
				)
				continue
			}
			res.Inserted++
		}
	}
	return res, ctx.Err()
}

func (s *Seeder) insertOne(ctx context.Context, rec record) error {
	if s.runInTx == nil {
		return s.insertRecord(ctx, rec)
	}
	return s.runInTx(ctx, func(ctx context.Context) error { return s.insertRecord(ctx, rec) })
}

func (s *Seeder) insertRecord(ctx context.Context, rec record) error {
	if err := s.store.Create(ctx, rec.politician); err != nil {
		return err
	}
	for _, p := range rec.promises {
		if err := s.store.CreatePromise(ctx, p); err != nil {
			return fmt.Errorf("promise for %s: %w", rec.politician.Name, err)
		}
	}
	return nil
}

func (s *Seeder) clean(e Entry, now time.Time) (record, bool) {
	first := pstrings.CollapseSpace(e.FirstName)
	last := pstrings.CollapseSpace(e.LastName)
	name := pstrings.CollapseSpace(e.Name)
	if name == "" {
		name = pstrings.CollapseSpace(first + " " + last)
	}
	position := pstrings.CollapseSpace(e.Position)
	party := pstrings.CollapseSpace(e.Party)
	if name == "" || position == "" || (first == "" && last == "") {
		return record{}, false
	}

	p := &domain.Politician{
		ID:               domain.NewPoliticianID(),
		Name:             name,
		FirstName:        first,
		LastName:         last,
		Party:            party,
		Position:         position,
		Orientation:      domain.OrientationForParty(party),
		SourceIDs:        pstrings.UniqueLower(e.Sources),
		CredibilityScore: domain.NeutralScore,
		CredibilityLabel: domain.LabelMixed,
		CreatedAt:        now,
	}

	var promises []*domain.Promise
	for _, pe := range e.Promises {
		content := strings.TrimSpace(pe.Content)
		if content == "" {
			continue
		}
		created := pe.CreatedAt
		if created.IsZero() {
			created = now
		}
		promises = append(promises, &domain.Promise{
			ID:           domain.NewPromiseID(),
			PoliticianID: p.ID,
			Content:      content,
			Keywords:     pstrings.UniqueLower(pe.Keywords),
			Status:       domain.PromiseOpen,
			CreatedAt:    created.UTC(),
		})
	}
	return record{politician: p, promises: promises}, true
}
