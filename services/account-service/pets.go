package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/db"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/recommend"
	"github.com/00Mars/pet-pawket-sub000/internal/validator"
)

const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type pet struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	Name          string    `json:"name" validate:"required,max=80"`
	Species       string    `json:"species" validate:"required"`
	Breed         string    `json:"breed,omitempty" validate:"max=80"`
	Size          string    `json:"size,omitempty" validate:"omitempty,oneof=small medium large giant"`
	Birthdate     string    `json:"birthdate,omitempty"`
	WeightLbs     *float64  `json:"weight_lbs,omitempty" validate:"omitempty,gte=0"`
	ActivityLevel string    `json:"activity_level,omitempty" validate:"omitempty,oneof=low moderate high"`
	Allergies     []string  `json:"allergies" validate:"max=20,dive,max=40"`
	Flavors       []string  `json:"flavors" validate:"max=20,dive,max=40"`
	Interests     []string  `json:"interests" validate:"max=20,dive,max=40"`
	BudgetMin     *float64  `json:"budget_min,omitempty" validate:"omitempty,gte=0"`
	BudgetMax     *float64  `json:"budget_max,omitempty" validate:"omitempty,gte=0"`
	Notes         string    `json:"notes,omitempty" validate:"max=2000"`
	LifeStage     string    `json:"life_stage,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// petRequest serves both create and partial update; nil fields are left
// unchanged.
type petRequest struct {
	Name          *string   `json:"name,omitempty"`
	Species       *string   `json:"species,omitempty"`
	Breed         *string   `json:"breed,omitempty"`
	Size          *string   `json:"size,omitempty"`
	Birthdate     *string   `json:"birthdate,omitempty"`
	WeightLbs     *float64  `json:"weight_lbs,omitempty"`
	ActivityLevel *string   `json:"activity_level,omitempty"`
	Allergies     *[]string `json:"allergies,omitempty"`
	Flavors       *[]string `json:"flavors,omitempty"`
	Interests     *[]string `json:"interests,omitempty"`
	BudgetMin     *float64  `json:"budget_min,omitempty"`
	BudgetMax     *float64  `json:"budget_max,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
}

func (req petRequest) empty() bool {
	return req.Name == nil && req.Species == nil && req.Breed == nil && req.Size == nil &&
		req.Birthdate == nil && req.WeightLbs == nil && req.ActivityLevel == nil &&
		req.Allergies == nil && req.Flavors == nil && req.Interests == nil &&
		req.BudgetMin == nil && req.BudgetMax == nil && req.Notes == nil
}

type petListResponse struct {
	Items      []pet  `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	Cached     bool   `json:"cached"`
}

// ---------------------------------------------------------------------------
// Build / Validate
// ---------------------------------------------------------------------------

func buildCreatePet(customer string, req petRequest, now time.Time) (pet, error) {
	p := pet{
		ID:         "pet_" + uuid.NewString(),
		CustomerID: customer,
		Allergies:  []string{},
		Flavors:    []string{},
		Interests:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := applyPet(&p, req, now); err != nil {
		return pet{}, err
	}
	return p, nil
}

// applyPet copies the set fields of req onto p, normalized, and validates the
// result against the pet's validate tags.
func applyPet(p *pet, req petRequest, now time.Time) error {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Species != nil {
		p.Species = catalog.NormalizeSpecies(*req.Species)
		if p.Species == "" {
			return apperr.Invalid("species must be one of %s", strings.Join(catalog.SpeciesList(), ", "))
		}
	}
	if req.Breed != nil {
		p.Breed = strings.TrimSpace(*req.Breed)
	}
	if req.Size != nil {
		p.Size = normalizeEnum(*req.Size)
	}
	if req.Birthdate != nil {
		bd, err := parseDate("birthdate", *req.Birthdate, now)
		if err != nil {
			return err
		}
		p.Birthdate = bd
	}
	if req.WeightLbs != nil {
		p.WeightLbs = req.WeightLbs
	}
	if req.ActivityLevel != nil {
		p.ActivityLevel = normalizeEnum(*req.ActivityLevel)
	}
	if req.Allergies != nil {
		p.Allergies = normalizeTraitList(*req.Allergies)
	}
	if req.Flavors != nil {
		p.Flavors = normalizeTraitList(*req.Flavors)
	}
	if req.Interests != nil {
		p.Interests = normalizeTraitList(*req.Interests)
	}
	if req.BudgetMin != nil {
		p.BudgetMin = req.BudgetMin
	}
	if req.BudgetMax != nil {
		p.BudgetMax = req.BudgetMax
	}
	if req.Notes != nil {
		p.Notes = strings.TrimSpace(*req.Notes)
	}

	if err := validator.Check(p); err != nil {
		return err
	}
	if p.BudgetMin != nil && p.BudgetMax != nil && *p.BudgetMin > *p.BudgetMax {
		return apperr.Invalid("budget_min must not exceed budget_max")
	}
	return nil
}

// normalizeEnum lowercases and trims; "" clears the field.
func normalizeEnum(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeTraitList lowercases, collapses spaces and dedupes, keeping
// first-seen order.
func normalizeTraitList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, raw := range in {
		v := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// parseDate accepts YYYY-MM-DD not later than today. "" clears the value.
func parseDate(field, raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", apperr.Invalid("%s must be a date formatted YYYY-MM-DD", field)
	}
	if d.After(truncateDay(now)) {
		return "", apperr.Invalid("%s must not be in the future", field)
	}
	return d.Format(dateLayout), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// traits converts a stored pet into recommendation inputs.
func (p pet) traits() recommend.Traits {
	t := recommend.Traits{
		Species:       p.Species,
		Breed:         p.Breed,
		Size:          p.Size,
		ActivityLevel: p.ActivityLevel,
		Allergies:     p.Allergies,
		Flavors:       p.Flavors,
		Interests:     p.Interests,
	}
	if p.Birthdate != "" {
		t.Birthdate, _ = time.Parse(dateLayout, p.Birthdate)
	}
	if p.BudgetMin != nil {
		t.BudgetMin = *p.BudgetMin
	}
	if p.BudgetMax != nil {
		t.BudgetMax = *p.BudgetMax
	}
	return t
}

func (p pet) withLifeStage(now time.Time) pet {
	t := p.traits()
	p.LifeStage = recommend.LifeStage(p.Species, t.Birthdate, now)
	return p
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleListPets(w http.ResponseWriter, r *http.Request) {
	limit := httpx.IntParam(r, "limit", 50, 1, 200)
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	resp, err := s.listPets(r.Context(), customerID(r), cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	now := s.now()
	for i := range resp.Items {
		resp.Items[i] = resp.Items[i].withLifeStage(now)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": resp.Items, "next_cursor": resp.NextCursor, "cached": resp.Cached, "event_topic": "pawket.account.pets.listed"})
}

func (s *service) handleCreatePet(w http.ResponseWriter, r *http.Request) {
	var req petRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	customer := customerID(r)
	p, err := buildCreatePet(customer, req, s.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := s.createPet(r.Context(), p); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.publish(r.Context(), "pawket.account.pet.created", customer, map[string]string{"id": p.ID, "species": p.Species})
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": p.withLifeStage(s.now()), "event_topic": "pawket.account.pet.created"})
}

func (s *service) handleGetPet(w http.ResponseWriter, r *http.Request) {
	p, err := s.getPet(r.Context(), customerID(r), urlID(r, "petID"))
	if err != nil {
		httpx.WriteError(w, r, notFound("pet", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": p.withLifeStage(s.now()), "event_topic": "pawket.account.pet.read"})
}

func (s *service) handleUpdatePet(w http.ResponseWriter, r *http.Request) {
	var req petRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.empty() {
		httpx.WriteError(w, r, apperr.BadRequest("empty update payload"))
		return
	}
	customer := customerID(r)
	p, err := s.updatePet(r.Context(), customer, urlID(r, "petID"), req)
	if err != nil {
		httpx.WriteError(w, r, notFound("pet", err))
		return
	}
	s.publish(r.Context(), "pawket.account.pet.updated", customer, map[string]string{"id": p.ID})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": p.withLifeStage(s.now()), "event_topic": "pawket.account.pet.updated"})
}

func (s *service) handleDeletePet(w http.ResponseWriter, r *http.Request) {
	customer := customerID(r)
	id := urlID(r, "petID")
	if err := s.deletePet(r.Context(), customer, id); err != nil {
		httpx.WriteError(w, r, notFound("pet", err))
		return
	}
	s.publish(r.Context(), "pawket.account.pet.deleted", customer, map[string]string{"id": id})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "pawket.account.pet.deleted"})
}

func (s *service) handleExplainPets(w http.ResponseWriter, r *http.Request) {
	plan, err := s.explainPets(r.Context(), customerID(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"plan": plan, "event_topic": "pawket.account.pets.explain.generated"})
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

const petColumns = `id, customer_id, name, species, breed, size, birthdate, weight_lbs, activity_level,
	allergies, flavors, interests, budget_min, budget_max, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPet(row rowScanner) (pet, error) {
	var p pet
	var breed, size, activity, notes sql.NullString
	var birthdate sql.NullTime
	var weight, budgetMin, budgetMax sql.NullFloat64
	var allergies, flavors, interests []byte
	if err := row.Scan(&p.ID, &p.CustomerID, &p.Name, &p.Species, &breed, &size, &birthdate, &weight, &activity,
		&allergies, &flavors, &interests, &budgetMin, &budgetMax, &notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return pet{}, err
	}
	p.Breed = breed.String
	p.Size = size.String
	p.ActivityLevel = activity.String
	p.Notes = notes.String
	if birthdate.Valid {
		p.Birthdate = birthdate.Time.Format(dateLayout)
	}
	p.WeightLbs = floatPtr(weight)
	p.BudgetMin = floatPtr(budgetMin)
	p.BudgetMax = floatPtr(budgetMax)
	p.Allergies = decodeList(allergies)
	p.Flavors = decodeList(flavors)
	p.Interests = decodeList(interests)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *service) createPet(ctx context.Context, p pet) error {
	if s.db == nil {
		s.memMu.Lock()
		count := 0
		for _, existing := range s.mem.pets {
			if existing.CustomerID == p.CustomerID {
				count++
			}
		}
		if s.maxPets > 0 && count >= s.maxPets {
			s.memMu.Unlock()
			return petLimitError(s.maxPets)
		}
		s.mem.pets[p.ID] = p
		s.memMu.Unlock()
		s.invalidate(ctx, p.CustomerID, "pets")
		return nil
	}

	err := db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.LockKey(ctx, tx, "pets:"+p.CustomerID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pets WHERE customer_id=$1`, p.CustomerID).Scan(&count); err != nil {
			return err
		}
		if s.maxPets > 0 && count >= s.maxPets {
			return petLimitError(s.maxPets)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO pets (`+petColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`, petArgs(p)...)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, p.CustomerID, "pets")
	return nil
}

func petLimitError(max int) error {
	return apperr.Conflict(fmt.Sprintf("a customer may keep at most %d pets", max))
}

func petArgs(p pet) []any {
	return []any{
		p.ID, p.CustomerID, p.Name, p.Species, db.NilIfEmpty(p.Breed), db.NilIfEmpty(p.Size),
		dateParam(p.Birthdate), nullableFloat(p.WeightLbs), db.NilIfEmpty(p.ActivityLevel),
		encodeList(p.Allergies), encodeList(p.Flavors), encodeList(p.Interests),
		nullableFloat(p.BudgetMin), nullableFloat(p.BudgetMax), db.NilIfEmpty(p.Notes),
		p.CreatedAt, p.UpdatedAt,
	}
}

func (s *service) getPet(ctx context.Context, customer, id string) (pet, error) {
	if s.db == nil {
		s.memMu.RLock()
		p, ok := s.mem.pets[id]
		s.memMu.RUnlock()
		if !ok || p.CustomerID != customer {
			return pet{}, sql.ErrNoRows
		}
		return p, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+petColumns+` FROM pets WHERE customer_id=$1 AND id=$2`, customer, id)
	return scanPet(row)
}

func (s *service) listPets(ctx context.Context, customer, cursor string, limit int) (petListResponse, error) {
	key := listCacheKey(customer, "pets", fmt.Sprint(limit))
	if cursor == "" {
		var cached petListResponse
		if s.cachedList(ctx, key, &cached) {
			cached.Cached = true
			return cached, nil
		}
	}
	cursorTime, cursorID, err := db.ParseCursor(cursor)
	if err != nil {
		return petListResponse{}, err
	}

	var items []pet
	if s.db == nil {
		items = s.listPetsMemory(customer, cursorTime, cursorID, limit)
	} else {
		args := []any{customer}
		where := "customer_id = $1"
		if !cursorTime.IsZero() {
			where += " AND (created_at, id) < ($2, $3)"
			args = append(args, cursorTime, cursorID)
		}
		args = append(args, limit+1)
		q := fmt.Sprintf(`SELECT %s FROM pets WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`, petColumns, where, len(args))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return petListResponse{}, err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPet(rows)
			if err != nil {
				return petListResponse{}, err
			}
			items = append(items, p)
		}
		if err := rows.Err(); err != nil {
			return petListResponse{}, err
		}
	}

	resp := petListResponse{Items: items}
	if resp.Items == nil {
		resp.Items = []pet{}
	}
	if len(items) > limit {
		last := items[limit-1]
		resp.Items = items[:limit]
		resp.NextCursor = db.EncodeCursor(last.CreatedAt, last.ID)
	}
	if cursor == "" {
		s.storeList(ctx, key, resp)
	}
	return resp, nil
}

// listPetsMemory returns up to limit+1 pets after the cursor.
func (s *service) listPetsMemory(customer string, cursorTime time.Time, cursorID string, limit int) []pet {
	s.memMu.RLock()
	items := make([]pet, 0)
	for _, p := range s.mem.pets {
		if p.CustomerID != customer {
			continue
		}
		if !cursorTime.IsZero() && !db.Before(p.CreatedAt, p.ID, cursorTime, cursorID) {
			continue
		}
		items = append(items, p)
	}
	s.memMu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit+1 {
		items = items[:limit+1]
	}
	return items
}

func (s *service) updatePet(ctx context.Context, customer, id string, req petRequest) (pet, error) {
	if s.db == nil {
		s.memMu.Lock()
		p, ok := s.mem.pets[id]
		if !ok || p.CustomerID != customer {
			s.memMu.Unlock()
			return pet{}, sql.ErrNoRows
		}
		if err := applyPet(&p, req, s.now()); err != nil {
			s.memMu.Unlock()
			return pet{}, err
		}
		p.UpdatedAt = s.now()
		s.mem.pets[id] = p
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "pets")
		return p, nil
	}

	p, err := s.getPet(ctx, customer, id)
	if err != nil {
		return pet{}, err
	}
	if err := applyPet(&p, req, s.now()); err != nil {
		return pet{}, err
	}
	p.UpdatedAt = s.now()
	q := `UPDATE pets SET name=$3, species=$4, breed=$5, size=$6, birthdate=$7, weight_lbs=$8, activity_level=$9,
		allergies=$10, flavors=$11, interests=$12, budget_min=$13, budget_max=$14, notes=$15, created_at=$16, updated_at=$17
		WHERE customer_id=$2 AND id=$1`
	res, err := s.db.ExecContext(ctx, q, petArgs(p)...)
	if err != nil {
		return pet{}, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return pet{}, err
	} else if affected == 0 {
		return pet{}, sql.ErrNoRows
	}
	s.invalidate(ctx, customer, "pets")
	return p, nil
}

// deletePet removes the pet and its journal entries.
func (s *service) deletePet(ctx context.Context, customer, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		p, ok := s.mem.pets[id]
		if !ok || p.CustomerID != customer {
			s.memMu.Unlock()
			return sql.ErrNoRows
		}
		delete(s.mem.pets, id)
		for jid, j := range s.mem.journals {
			if j.PetID == id {
				delete(s.mem.journals, jid)
			}
		}
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "pets")
		s.invalidate(ctx, customer, "journals")
		return nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM pets WHERE customer_id=$1 AND id=$2`, customer, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	s.invalidate(ctx, customer, "pets")
	s.invalidate(ctx, customer, "journals")
	return nil
}

func (s *service) explainPets(ctx context.Context, customer string) (any, error) {
	if s.db == nil {
		return map[string]any{"mode": "memory", "note": "no SQL plan available"}, nil
	}
	return db.Explain(ctx, s.db, `SELECT `+petColumns+` FROM pets WHERE customer_id = $1 ORDER BY created_at DESC, id DESC LIMIT 50`, customer)
}

// ---------------------------------------------------------------------------
// Column helpers
// ---------------------------------------------------------------------------

func encodeList(list []string) string {
	if list == nil {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList tolerates NULL and malformed JSON by returning an empty list.
func decodeList(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func dateParam(s string) any {
	if s == "" {
		return nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return d
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
