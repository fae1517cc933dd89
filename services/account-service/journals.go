package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/db"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/validator"
)

type journalEntry struct {
	ID         string    `json:"id"`
	PetID      string    `json:"pet_id"`
	CustomerID string    `json:"customer_id"`
	Title      string    `json:"title,omitempty" validate:"max=120"`
	Body       string    `json:"body" validate:"required,max=10000"`
	Mood       string    `json:"mood,omitempty" validate:"omitempty,oneof=happy calm playful anxious tired sick"`
	EntryDate  string    `json:"entry_date" validate:"required"`
	WeightLbs  *float64  `json:"weight_lbs,omitempty" validate:"omitempty,gte=0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type journalRequest struct {
	Title     *string  `json:"title,omitempty"`
	Body      *string  `json:"body,omitempty"`
	Mood      *string  `json:"mood,omitempty"`
	EntryDate *string  `json:"entry_date,omitempty"`
	WeightLbs *float64 `json:"weight_lbs,omitempty"`
}

func (req journalRequest) empty() bool {
	return req.Title == nil && req.Body == nil && req.Mood == nil && req.EntryDate == nil && req.WeightLbs == nil
}

type journalListResponse struct {
	Items      []journalEntry `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	Cached     bool           `json:"cached"`
}

// ---------------------------------------------------------------------------
// Build / Validate
// ---------------------------------------------------------------------------

func buildCreateJournal(customer, petID string, req journalRequest, now time.Time) (journalEntry, error) {
	j := journalEntry{
		ID:         "jrn_" + uuid.NewString(),
		PetID:      petID,
		CustomerID: customer,
		EntryDate:  truncateDay(now).Format(dateLayout),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := applyJournal(&j, req, now); err != nil {
		return journalEntry{}, err
	}
	return j, nil
}

func applyJournal(j *journalEntry, req journalRequest, now time.Time) error {
	if req.Title != nil {
		j.Title = strings.TrimSpace(*req.Title)
	}
	if req.Body != nil {
		j.Body = strings.TrimSpace(*req.Body)
	}
	if req.Mood != nil {
		j.Mood = normalizeEnum(*req.Mood)
	}
	if req.EntryDate != nil {
		d, err := parseDate("entry_date", *req.EntryDate, now)
		if err != nil {
			return err
		}
		if d == "" {
			d = truncateDay(now).Format(dateLayout)
		}
		j.EntryDate = d
	}
	if req.WeightLbs != nil {
		j.WeightLbs = req.WeightLbs
	}
	return validator.Check(j)
}

// entryTime is the sort key for (entry_date DESC, id DESC) paging.
func (j journalEntry) entryTime() time.Time {
	t, _ := time.Parse(dateLayout, j.EntryDate)
	return t
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// ownedPet resolves the {petID} path parameter, 404 when the caller does not
// own it.
func (s *service) ownedPet(r *http.Request) (pet, error) {
	p, err := s.getPet(r.Context(), customerID(r), urlID(r, "petID"))
	if err != nil {
		return pet{}, notFound("pet", err)
	}
	return p, nil
}

func (s *service) handleListJournals(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	limit := httpx.IntParam(r, "limit", 50, 1, 200)
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	resp, err := s.listJournals(r.Context(), p.CustomerID, p.ID, cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": resp.Items, "next_cursor": resp.NextCursor, "cached": resp.Cached, "event_topic": "pawket.account.journals.listed"})
}

func (s *service) handleCreateJournal(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req journalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	j, err := buildCreateJournal(p.CustomerID, p.ID, req, s.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := s.createJournal(r.Context(), j); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.publish(r.Context(), "pawket.account.journal.created", j.CustomerID, map[string]string{"id": j.ID, "pet_id": j.PetID})
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": j, "event_topic": "pawket.account.journal.created"})
}

func (s *service) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	j, err := s.getJournal(r.Context(), p.CustomerID, p.ID, urlID(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, notFound("journal entry", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": j, "event_topic": "pawket.account.journal.read"})
}

func (s *service) handleUpdateJournal(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req journalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.empty() {
		httpx.WriteError(w, r, apperr.BadRequest("empty update payload"))
		return
	}
	j, err := s.updateJournal(r.Context(), p.CustomerID, p.ID, urlID(r, "id"), req)
	if err != nil {
		httpx.WriteError(w, r, notFound("journal entry", err))
		return
	}
	s.publish(r.Context(), "pawket.account.journal.updated", j.CustomerID, map[string]string{"id": j.ID, "pet_id": j.PetID})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": j, "event_topic": "pawket.account.journal.updated"})
}

func (s *service) handleDeleteJournal(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	id := urlID(r, "id")
	if err := s.deleteJournal(r.Context(), p.CustomerID, p.ID, id); err != nil {
		httpx.WriteError(w, r, notFound("journal entry", err))
		return
	}
	s.publish(r.Context(), "pawket.account.journal.deleted", p.CustomerID, map[string]string{"id": id, "pet_id": p.ID})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "pawket.account.journal.deleted"})
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

const journalColumns = `id, pet_id, customer_id, title, body, mood, entry_date, weight_lbs, created_at, updated_at`

func scanJournal(row rowScanner) (journalEntry, error) {
	var j journalEntry
	var title, mood sql.NullString
	var entryDate time.Time
	var weight sql.NullFloat64
	if err := row.Scan(&j.ID, &j.PetID, &j.CustomerID, &title, &j.Body, &mood, &entryDate, &weight, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return journalEntry{}, err
	}
	j.Title = title.String
	j.Mood = mood.String
	j.EntryDate = entryDate.Format(dateLayout)
	j.WeightLbs = floatPtr(weight)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return j, nil
}

func journalArgs(j journalEntry) []any {
	return []any{
		j.ID, j.PetID, j.CustomerID, db.NilIfEmpty(j.Title), j.Body, db.NilIfEmpty(j.Mood),
		dateParam(j.EntryDate), nullableFloat(j.WeightLbs), j.CreatedAt, j.UpdatedAt,
	}
}

func (s *service) createJournal(ctx context.Context, j journalEntry) error {
	if s.db == nil {
		s.memMu.Lock()
		if p, ok := s.mem.pets[j.PetID]; !ok || p.CustomerID != j.CustomerID {
			s.memMu.Unlock()
			return apperr.NotFound("pet")
		}
		s.mem.journals[j.ID] = j
		s.memMu.Unlock()
		s.invalidate(ctx, j.CustomerID, "journals")
		return nil
	}
	q := `INSERT INTO pet_journals (` + journalColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if _, err := s.db.ExecContext(ctx, q, journalArgs(j)...); err != nil {
		return err
	}
	s.invalidate(ctx, j.CustomerID, "journals")
	return nil
}

func (s *service) getJournal(ctx context.Context, customer, petID, id string) (journalEntry, error) {
	if s.db == nil {
		s.memMu.RLock()
		j, ok := s.mem.journals[id]
		s.memMu.RUnlock()
		if !ok || j.CustomerID != customer || j.PetID != petID {
			return journalEntry{}, sql.ErrNoRows
		}
		return j, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM pet_journals WHERE customer_id=$1 AND pet_id=$2 AND id=$3`, customer, petID, id)
	return scanJournal(row)
}

func (s *service) listJournals(ctx context.Context, customer, petID, cursor string, limit int) (journalListResponse, error) {
	key := listCacheKey(customer, "journals", petID, fmt.Sprint(limit))
	if cursor == "" {
		var cached journalListResponse
		if s.cachedList(ctx, key, &cached) {
			cached.Cached = true
			return cached, nil
		}
	}
	cursorDate, cursorID, err := db.ParseCursor(cursor)
	if err != nil {
		return journalListResponse{}, err
	}

	var items []journalEntry
	if s.db == nil {
		s.memMu.RLock()
		for _, j := range s.mem.journals {
			if j.CustomerID != customer || j.PetID != petID {
				continue
			}
			if !cursorDate.IsZero() && !db.Before(j.entryTime(), j.ID, cursorDate, cursorID) {
				continue
			}
			items = append(items, j)
		}
		s.memMu.RUnlock()
		sort.Slice(items, func(a, b int) bool {
			ta, tb := items[a].entryTime(), items[b].entryTime()
			if ta.Equal(tb) {
				return items[a].ID > items[b].ID
			}
			return ta.After(tb)
		})
		if len(items) > limit+1 {
			items = items[:limit+1]
		}
	} else {
		args := []any{customer, petID}
		where := "customer_id = $1 AND pet_id = $2"
		if !cursorDate.IsZero() {
			where += " AND (entry_date, id) < ($3::date, $4)"
			args = append(args, cursorDate, cursorID)
		}
		args = append(args, limit+1)
		q := fmt.Sprintf(`SELECT %s FROM pet_journals WHERE %s ORDER BY entry_date DESC, id DESC LIMIT $%d`, journalColumns, where, len(args))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return journalListResponse{}, err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJournal(rows)
			if err != nil {
				return journalListResponse{}, err
			}
			items = append(items, j)
		}
		if err := rows.Err(); err != nil {
			return journalListResponse{}, err
		}
	}

	resp := journalListResponse{Items: items}
	if resp.Items == nil {
		resp.Items = []journalEntry{}
	}
	if len(items) > limit {
		last := items[limit-1]
		resp.Items = items[:limit]
		resp.NextCursor = db.EncodeCursor(last.entryTime(), last.ID)
	}
	if cursor == "" {
		s.storeList(ctx, key, resp)
	}
	return resp, nil
}

func (s *service) updateJournal(ctx context.Context, customer, petID, id string, req journalRequest) (journalEntry, error) {
	if s.db == nil {
		s.memMu.Lock()
		j, ok := s.mem.journals[id]
		if !ok || j.CustomerID != customer || j.PetID != petID {
			s.memMu.Unlock()
			return journalEntry{}, sql.ErrNoRows
		}
		if err := applyJournal(&j, req, s.now()); err != nil {
			s.memMu.Unlock()
			return journalEntry{}, err
		}
		j.UpdatedAt = s.now()
		s.mem.journals[id] = j
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "journals")
		return j, nil
	}

	j, err := s.getJournal(ctx, customer, petID, id)
	if err != nil {
		return journalEntry{}, err
	}
	if err := applyJournal(&j, req, s.now()); err != nil {
		return journalEntry{}, err
	}
	j.UpdatedAt = s.now()
	q := `UPDATE pet_journals SET pet_id=$2, title=$4, body=$5, mood=$6, entry_date=$7, weight_lbs=$8, created_at=$9, updated_at=$10
		WHERE id=$1 AND customer_id=$3`
	if _, err := s.db.ExecContext(ctx, q, journalArgs(j)...); err != nil {
		return journalEntry{}, err
	}
	s.invalidate(ctx, customer, "journals")
	return j, nil
}

func (s *service) deleteJournal(ctx context.Context, customer, petID, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		j, ok := s.mem.journals[id]
		if !ok || j.CustomerID != customer || j.PetID != petID {
			s.memMu.Unlock()
			return sql.ErrNoRows
		}
		delete(s.mem.journals, id)
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "journals")
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pet_journals WHERE customer_id=$1 AND pet_id=$2 AND id=$3`, customer, petID, id)
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
	s.invalidate(ctx, customer, "journals")
	return nil
}
