package main

import (
	"context"
	"database/sql"
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

type address struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Label      string    `json:"label,omitempty" validate:"max=255"`
	FirstName  string    `json:"first_name,omitempty" validate:"max=255"`
	LastName   string    `json:"last_name,omitempty" validate:"max=255"`
	Line1      string    `json:"line1" validate:"required,max=255"`
	Line2      string    `json:"line2,omitempty" validate:"max=255"`
	City       string    `json:"city" validate:"required,max=255"`
	Province   string    `json:"province,omitempty" validate:"max=255"`
	PostalCode string    `json:"postal_code,omitempty" validate:"max=255"`
	Country    string    `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string    `json:"phone,omitempty" validate:"max=255"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type addressRequest struct {
	Label      *string `json:"label,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Line1      *string `json:"line1,omitempty"`
	Line2      *string `json:"line2,omitempty"`
	City       *string `json:"city,omitempty"`
	Province   *string `json:"province,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Country    *string `json:"country,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	IsDefault  *bool   `json:"is_default,omitempty"`
}

func (req addressRequest) empty() bool {
	return req.Label == nil && req.FirstName == nil && req.LastName == nil && req.Line1 == nil &&
		req.Line2 == nil && req.City == nil && req.Province == nil && req.PostalCode == nil &&
		req.Country == nil && req.Phone == nil && req.IsDefault == nil
}

func buildCreateAddress(customer string, req addressRequest, now time.Time) (address, error) {
	a := address{
		ID:         "adr_" + uuid.NewString(),
		CustomerID: customer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := applyAddress(&a, req); err != nil {
		return address{}, err
	}
	return a, nil
}

func applyAddress(a *address, req addressRequest) error {
	for _, f := range []struct {
		src *string
		dst *string
	}{
		{req.Label, &a.Label},
		{req.FirstName, &a.FirstName},
		{req.LastName, &a.LastName},
		{req.Line1, &a.Line1},
		{req.Line2, &a.Line2},
		{req.City, &a.City},
		{req.Province, &a.Province},
		{req.PostalCode, &a.PostalCode},
		{req.Phone, &a.Phone},
	} {
		if f.src != nil {
			*f.dst = strings.TrimSpace(*f.src)
		}
	}
	if req.Country != nil {
		a.Country = strings.ToUpper(strings.TrimSpace(*req.Country))
	}
	if req.IsDefault != nil {
		a.IsDefault = *req.IsDefault
	}
	return validator.Check(a)
}

// sortAddresses orders default first, then newest.
func sortAddresses(items []address) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDefault != items[j].IsDefault {
			return items[i].IsDefault
		}
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	items, cached, err := s.listAddresses(r.Context(), customerID(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "cached": cached, "event_topic": "pawket.account.addresses.listed"})
}

func (s *service) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	a, err := buildCreateAddress(customerID(r), req, s.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	a, err = s.createAddress(r.Context(), a)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.publish(r.Context(), "pawket.account.address.created", a.CustomerID, map[string]any{"id": a.ID, "is_default": a.IsDefault})
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": a, "event_topic": "pawket.account.address.created"})
}

func (s *service) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	a, err := s.getAddress(r.Context(), customerID(r), urlID(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, notFound("address", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": a, "event_topic": "pawket.account.address.read"})
}

func (s *service) handleUpdateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.empty() {
		httpx.WriteError(w, r, apperr.BadRequest("empty update payload"))
		return
	}
	a, err := s.updateAddress(r.Context(), customerID(r), urlID(r, "id"), req)
	if err != nil {
		httpx.WriteError(w, r, notFound("address", err))
		return
	}
	s.publish(r.Context(), "pawket.account.address.updated", a.CustomerID, map[string]any{"id": a.ID, "is_default": a.IsDefault})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": a, "event_topic": "pawket.account.address.updated"})
}

func (s *service) handleSetDefaultAddress(w http.ResponseWriter, r *http.Request) {
	yes := true
	a, err := s.updateAddress(r.Context(), customerID(r), urlID(r, "id"), addressRequest{IsDefault: &yes})
	if err != nil {
		httpx.WriteError(w, r, notFound("address", err))
		return
	}
	s.publish(r.Context(), "pawket.account.address.defaulted", a.CustomerID, map[string]string{"id": a.ID})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": a, "event_topic": "pawket.account.address.defaulted"})
}

func (s *service) handleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	customer := customerID(r)
	id := urlID(r, "id")
	promoted, err := s.deleteAddress(r.Context(), customer, id)
	if err != nil {
		httpx.WriteError(w, r, notFound("address", err))
		return
	}
	s.publish(r.Context(), "pawket.account.address.deleted", customer, map[string]string{"id": id, "promoted": promoted})
	resp := map[string]any{"id": id, "event_topic": "pawket.account.address.deleted"}
	if promoted != "" {
		resp["default_address_id"] = promoted
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

const addressColumns = `id, customer_id, label, first_name, last_name, line1, line2, city, province,
	postal_code, country, phone, is_default, created_at, updated_at`

func scanAddress(row rowScanner) (address, error) {
	var a address
	var label, first, last, line2, province, postal, phone sql.NullString
	if err := row.Scan(&a.ID, &a.CustomerID, &label, &first, &last, &a.Line1, &line2, &a.City, &province,
		&postal, &a.Country, &phone, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return address{}, err
	}
	a.Label = label.String
	a.FirstName = first.String
	a.LastName = last.String
	a.Line2 = line2.String
	a.Province = province.String
	a.PostalCode = postal.String
	a.Phone = phone.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func addressArgs(a address) []any {
	return []any{
		a.ID, a.CustomerID, db.NilIfEmpty(a.Label), db.NilIfEmpty(a.FirstName), db.NilIfEmpty(a.LastName),
		a.Line1, db.NilIfEmpty(a.Line2), a.City, db.NilIfEmpty(a.Province), db.NilIfEmpty(a.PostalCode),
		a.Country, db.NilIfEmpty(a.Phone), a.IsDefault, a.CreatedAt, a.UpdatedAt,
	}
}

// createAddress stores a. The customer's first address always becomes the
// default, and a new default demotes the previous one.
func (s *service) createAddress(ctx context.Context, a address) (address, error) {
	if s.db == nil {
		s.memMu.Lock()
		hasAny := false
		for _, existing := range s.mem.addresses {
			if existing.CustomerID == a.CustomerID {
				hasAny = true
				break
			}
		}
		if !hasAny {
			a.IsDefault = true
		}
		if a.IsDefault {
			s.clearDefaultMemory(a.CustomerID, a.UpdatedAt)
		}
		s.mem.addresses[a.ID] = a
		s.memMu.Unlock()
		s.invalidate(ctx, a.CustomerID, "addresses")
		return a, nil
	}

	err := s.addressTx(ctx, a.CustomerID, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM customer_addresses WHERE customer_id=$1`, a.CustomerID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE customer_addresses SET is_default=FALSE, updated_at=$2 WHERE customer_id=$1 AND is_default`, a.CustomerID, a.UpdatedAt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO customer_addresses (`+addressColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, addressArgs(a)...)
		return err
	})
	if err != nil {
		return address{}, err
	}
	s.invalidate(ctx, a.CustomerID, "addresses")
	return a, nil
}

// clearDefaultMemory requires memMu held.
func (s *service) clearDefaultMemory(customer string, now time.Time) {
	for id, existing := range s.mem.addresses {
		if existing.CustomerID == customer && existing.IsDefault {
			existing.IsDefault = false
			existing.UpdatedAt = now
			s.mem.addresses[id] = existing
		}
	}
}

func (s *service) getAddress(ctx context.Context, customer, id string) (address, error) {
	if s.db == nil {
		s.memMu.RLock()
		a, ok := s.mem.addresses[id]
		s.memMu.RUnlock()
		if !ok || a.CustomerID != customer {
			return address{}, sql.ErrNoRows
		}
		return a, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM customer_addresses WHERE customer_id=$1 AND id=$2`, customer, id)
	return scanAddress(row)
}

// listAddresses returns the whole address book; customers keep few enough
// addresses that it is not paginated.
func (s *service) listAddresses(ctx context.Context, customer string) ([]address, bool, error) {
	key := listCacheKey(customer, "addresses", "all")
	var cached []address
	if s.cachedList(ctx, key, &cached) {
		return cached, true, nil
	}

	items := []address{}
	if s.db == nil {
		s.memMu.RLock()
		for _, a := range s.mem.addresses {
			if a.CustomerID == customer {
				items = append(items, a)
			}
		}
		s.memMu.RUnlock()
		sortAddresses(items)
	} else {
		rows, err := s.db.QueryContext(ctx, `SELECT `+addressColumns+` FROM customer_addresses WHERE customer_id=$1
			ORDER BY is_default DESC, created_at DESC, id DESC`, customer)
		if err != nil {
			return nil, false, err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAddress(rows)
			if err != nil {
				return nil, false, err
			}
			items = append(items, a)
		}
		if err := rows.Err(); err != nil {
			return nil, false, err
		}
	}
	s.storeList(ctx, key, items)
	return items, false, nil
}

// updateAddress applies req. Unsetting the only default is rejected so the
// book always keeps one default address.
func (s *service) updateAddress(ctx context.Context, customer, id string, req addressRequest) (address, error) {
	now := s.now()
	if s.db == nil {
		s.memMu.Lock()
		a, ok := s.mem.addresses[id]
		if !ok || a.CustomerID != customer {
			s.memMu.Unlock()
			return address{}, sql.ErrNoRows
		}
		wasDefault := a.IsDefault
		if err := applyAddress(&a, req); err != nil {
			s.memMu.Unlock()
			return address{}, err
		}
		if wasDefault && !a.IsDefault {
			s.memMu.Unlock()
			return address{}, apperr.Invalid("choose another default address instead of unsetting this one")
		}
		if a.IsDefault && !wasDefault {
			s.clearDefaultMemory(customer, now)
		}
		a.UpdatedAt = now
		s.mem.addresses[id] = a
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "addresses")
		return a, nil
	}

	var out address
	err := s.addressTx(ctx, customer, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM customer_addresses WHERE customer_id=$1 AND id=$2 FOR UPDATE`, customer, id)
		a, err := scanAddress(row)
		if err != nil {
			return err
		}
		wasDefault := a.IsDefault
		if err := applyAddress(&a, req); err != nil {
			return err
		}
		if wasDefault && !a.IsDefault {
			return apperr.Invalid("choose another default address instead of unsetting this one")
		}
		if a.IsDefault && !wasDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE customer_addresses SET is_default=FALSE, updated_at=$2 WHERE customer_id=$1 AND is_default`, customer, now); err != nil {
				return err
			}
		}
		a.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `UPDATE customer_addresses SET label=$3, first_name=$4, last_name=$5, line1=$6, line2=$7,
			city=$8, province=$9, postal_code=$10, country=$11, phone=$12, is_default=$13, created_at=$14, updated_at=$15
			WHERE id=$1 AND customer_id=$2`, addressArgs(a)...)
		out = a
		return err
	})
	if err != nil {
		return address{}, err
	}
	s.invalidate(ctx, customer, "addresses")
	return out, nil
}

// deleteAddress removes the address. When it was the default, the newest
// remaining address is promoted and its id returned.
func (s *service) deleteAddress(ctx context.Context, customer, id string) (string, error) {
	now := s.now()
	promoted := ""
	if s.db == nil {
		s.memMu.Lock()
		a, ok := s.mem.addresses[id]
		if !ok || a.CustomerID != customer {
			s.memMu.Unlock()
			return "", sql.ErrNoRows
		}
		delete(s.mem.addresses, id)
		if a.IsDefault {
			var rest []address
			for _, other := range s.mem.addresses {
				if other.CustomerID == customer {
					rest = append(rest, other)
				}
			}
			if len(rest) > 0 {
				sortAddresses(rest)
				next := rest[0]
				next.IsDefault = true
				next.UpdatedAt = now
				s.mem.addresses[next.ID] = next
				promoted = next.ID
			}
		}
		s.memMu.Unlock()
		s.invalidate(ctx, customer, "addresses")
		return promoted, nil
	}

	err := s.addressTx(ctx, customer, func(tx *sql.Tx) error {
		var wasDefault bool
		err := tx.QueryRowContext(ctx, `DELETE FROM customer_addresses WHERE customer_id=$1 AND id=$2 RETURNING is_default`, customer, id).Scan(&wasDefault)
		if err != nil {
			return err
		}
		if !wasDefault {
			return nil
		}
		err = tx.QueryRowContext(ctx, `UPDATE customer_addresses SET is_default=TRUE, updated_at=$2
			WHERE id = (SELECT id FROM customer_addresses WHERE customer_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1)
			RETURNING id`, customer, now).Scan(&promoted)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	s.invalidate(ctx, customer, "addresses")
	return promoted, nil
}

// addressTx serializes address-book writes per customer. A unique violation
// on the one-default index surfaces as a conflict.
func (s *service) addressTx(ctx context.Context, customer string, fn func(*sql.Tx) error) error {
	err := db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.LockKey(ctx, tx, "customer_addresses:"+customer); err != nil {
			return err
		}
		return fn(tx)
	})
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("the address book changed concurrently, retry")
	}
	return err
}
