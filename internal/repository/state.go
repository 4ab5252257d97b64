package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lendwatch/reconciler/internal/delinquency"
	"github.com/lendwatch/reconciler/internal/transfer"
)

const (
	SectionMeta        = "meta"
	SectionTransfers   = "transfers"
	SectionSeen        = "seen"
	SectionSynthetics  = "synthetics"
	SectionDelinquents = "delinquents"
	SectionCategories  = "delinquency_categories"

	keyEpoch = "epoch"
)

var sections = []string{
	SectionMeta, SectionTransfers, SectionSeen, SectionSynthetics, SectionDelinquents, SectionCategories,
}

// State is everything the engine needs to resume after a restart.
type State struct {
	Epoch       time.Time
	Transfers   []transfer.Record
	Seen        map[string]time.Time
	Synthetics  []transfer.Synthetic
	Delinquents []delinquency.Record
	Categories  map[delinquency.Category][]int64
}

// StateRepo encodes State into the sections of a Store.
type StateRepo struct {
	store Store
}

func NewStateRepo(store Store) *StateRepo {
	return &StateRepo{store: store}
}

func (r *StateRepo) Save(ctx context.Context, s State) error {
	out := make(map[string]map[string]string, len(sections))

	out[SectionMeta] = map[string]string{keyEpoch: s.Epoch.UTC().Format(time.RFC3339Nano)}

	transfers := make(map[string]string, len(s.Transfers))
	for _, rec := range s.Transfers {
		t, err := transfer.FromRecord(rec)
		if err != nil {
			return err
		}
		if err := put(transfers, t.Key().String(), rec); err != nil {
			return err
		}
	}
	out[SectionTransfers] = transfers

	seen := make(map[string]string, len(s.Seen))
	for k, at := range s.Seen {
		seen[k] = at.UTC().Format(time.RFC3339Nano)
	}
	out[SectionSeen] = seen

	synthetics := make(map[string]string, len(s.Synthetics))
	for i, syn := range s.Synthetics {
		// several local investments into one loan are possible
		if err := put(synthetics, fmt.Sprintf("%d:%d", syn.LoanID, i), syn); err != nil {
			return err
		}
	}
	out[SectionSynthetics] = synthetics

	delinquents := make(map[string]string, len(s.Delinquents))
	for _, rec := range s.Delinquents {
		if err := put(delinquents, strconv.FormatInt(rec.Investment.ID, 10), rec); err != nil {
			return err
		}
	}
	out[SectionDelinquents] = delinquents

	categories := make(map[string]string, len(s.Categories))
	for c, ids := range s.Categories {
		if err := put(categories, c.String(), ids); err != nil {
			return err
		}
	}
	out[SectionCategories] = categories

	return r.store.Save(ctx, out)
}

// Load returns the persisted state. found is false when nothing was ever saved.
func (r *StateRepo) Load(ctx context.Context) (s State, found bool, err error) {
	loaded := make(map[string]map[string]string, len(sections))
	for _, section := range sections {
		entries, err := r.store.Load(ctx, section)
		if err != nil {
			return State{}, false, err
		}
		loaded[section] = entries
	}

	raw, ok := loaded[SectionMeta][keyEpoch]
	if !ok {
		return State{}, false, nil
	}
	if s.Epoch, err = time.Parse(time.RFC3339Nano, raw); err != nil {
		return State{}, false, fmt.Errorf("parse epoch: %w", err)
	}

	for _, k := range sortedKeys(loaded[SectionTransfers]) {
		var rec transfer.Record
		if err := get(loaded[SectionTransfers], k, &rec); err != nil {
			return State{}, false, err
		}
		s.Transfers = append(s.Transfers, rec)
	}
	sort.SliceStable(s.Transfers, func(i, j int) bool {
		return s.Transfers[i].Timestamp.Before(s.Transfers[j].Timestamp)
	})

	s.Seen = make(map[string]time.Time, len(loaded[SectionSeen]))
	for k, v := range loaded[SectionSeen] {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return State{}, false, fmt.Errorf("parse seen %s: %w", k, err)
		}
		s.Seen[k] = at
	}

	for _, k := range sortedKeys(loaded[SectionSynthetics]) {
		var syn transfer.Synthetic
		if err := get(loaded[SectionSynthetics], k, &syn); err != nil {
			return State{}, false, err
		}
		s.Synthetics = append(s.Synthetics, syn)
	}

	for _, k := range sortedKeys(loaded[SectionDelinquents]) {
		var rec delinquency.Record
		if err := get(loaded[SectionDelinquents], k, &rec); err != nil {
			return State{}, false, err
		}
		s.Delinquents = append(s.Delinquents, rec)
	}
	sort.Slice(s.Delinquents, func(i, j int) bool {
		return s.Delinquents[i].Investment.ID < s.Delinquents[j].Investment.ID
	})

	s.Categories = make(map[delinquency.Category][]int64, len(loaded[SectionCategories]))
	for k := range loaded[SectionCategories] {
		c, err := delinquency.ParseCategory(k)
		if err != nil {
			return State{}, false, err
		}
		var ids []int64
		if err := get(loaded[SectionCategories], k, &ids); err != nil {
			return State{}, false, err
		}
		s.Categories[c] = ids
	}

	return s, true, nil
}

func put(m map[string]string, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m[key] = string(b)
	return nil
}

func get(m map[string]string, key string, v any) error {
	if err := json.Unmarshal([]byte(m[key]), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
