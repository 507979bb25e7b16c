package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"racereg/internal/model"
)

var (
	bucketRegistrations = []byte("registrations")
	bucketByEmail       = []byte("registrations_by_email")
	bucketByOrder       = []byte("registrations_by_order")
	bucketByInvoice     = []byte("registrations_by_invoice")
	bucketCoupons       = []byte("coupons")
	bucketAdmins        = []byte("admins")
)

// BoltStore is the embedded backend. Bolt allows one writer at a time, so each
// conditional update below is a read-check-write inside a single Update tx.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRegistrations, bucketByEmail, bucketByOrder,
			bucketByInvoice, bucketCoupons, bucketAdmins} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	raw := b.Get([]byte(key))
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func loadRegistration(tx *bolt.Tx, id string) (*model.Registration, error) {
	var r model.Registration
	if err := getJSON(tx.Bucket(bucketRegistrations), id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func storeRegistration(tx *bolt.Tx, r *model.Registration) error {
	if r.RazorpayOrderID != nil {
		if err := tx.Bucket(bucketByOrder).Put([]byte(*r.RazorpayOrderID), []byte(r.ID)); err != nil {
			return err
		}
	}
	if r.InvoiceNumber != "" {
		if err := tx.Bucket(bucketByInvoice).Put([]byte(r.InvoiceNumber), []byte(r.ID)); err != nil {
			return err
		}
	}
	return putJSON(tx.Bucket(bucketRegistrations), r.ID, r)
}

// mutate applies fn to one registration inside a write tx. fn returning an
// error rolls the tx back.
func (s *BoltStore) mutate(id string, fn func(r *model.Registration) error) (*model.Registration, error) {
	var out *model.Registration
	err := s.db.Update(func(tx *bolt.Tx) error {
		r, err := loadRegistration(tx, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = time.Now().UTC()
		out = r
		return storeRegistration(tx, r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) SaveDraft(_ context.Context, reg *model.Registration) (*model.Registration, bool, error) {
	var (
		out     model.Registration
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		now := time.Now().UTC()
		if id := tx.Bucket(bucketByEmail).Get([]byte(reg.Email)); id != nil {
			existing, err := loadRegistration(tx, string(id))
			if err != nil {
				return err
			}
			if existing.PaymentStatus == model.StatusPaid {
				return ErrAlreadyRegistered
			}
			existing.Name = reg.Name
			existing.Phone = reg.Phone
			existing.Race = reg.Race
			existing.TShirtSize = reg.TShirtSize
			existing.UpdatedAt = now
			out = *existing
			return storeRegistration(tx, existing)
		}

		r := *reg
		r.PaymentStatus = model.StatusPending
		r.CreatedAt = now
		r.UpdatedAt = now
		if err := tx.Bucket(bucketByEmail).Put([]byte(r.Email), []byte(r.ID)); err != nil {
			return err
		}
		out = r
		created = true
		return storeRegistration(tx, &r)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func (s *BoltStore) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	var r *model.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = loadRegistration(tx, id)
		return err
	})
	return r, err
}

func (s *BoltStore) getByIndex(bucket []byte, key string) (*model.Registration, error) {
	var r *model.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucket).Get([]byte(key))
		if id == nil {
			return ErrNotFound
		}
		var err error
		r, err = loadRegistration(tx, string(id))
		return err
	})
	return r, err
}

func (s *BoltStore) GetRegistrationByOrderID(_ context.Context, orderID string) (*model.Registration, error) {
	return s.getByIndex(bucketByOrder, orderID)
}

func (s *BoltStore) GetRegistrationByInvoice(_ context.Context, number string) (*model.Registration, error) {
	if number == "" {
		return nil, ErrNotFound
	}
	return s.getByIndex(bucketByInvoice, number)
}

func (s *BoltStore) HoldCoupon(_ context.Context, id, code string) error {
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus == model.StatusPaid || r.CouponState == model.CouponReserved {
			return ErrConditionFailed
		}
		r.CouponCode = &code
		r.CouponState = model.CouponReserved
		return nil
	})
	return err
}

func (s *BoltStore) ReleaseCouponHold(_ context.Context, id string) (string, error) {
	var code string
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.CouponState != model.CouponReserved || r.CouponCode == nil {
			return ErrConditionFailed
		}
		code = *r.CouponCode
		r.CouponState = model.CouponReleased
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", ErrConditionFailed
	}
	return code, err
}

func (s *BoltStore) CommitCouponHold(_ context.Context, id string) (string, bool, error) {
	var (
		code string
		held bool
	)
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.CouponCode == nil ||
			(r.CouponState != model.CouponReserved && r.CouponState != model.CouponReleased) {
			return ErrConditionFailed
		}
		code = *r.CouponCode
		held = r.CouponState == model.CouponReserved
		r.CouponState = model.CouponCommitted
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, ErrConditionFailed
	}
	return code, held, err
}

func (s *BoltStore) AttachOrder(_ context.Context, id string, a model.OrderAttachment) error {
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus == model.StatusPaid {
			return ErrConditionFailed
		}
		orderID := a.OrderID
		base, charged := a.BaseAmount, a.ChargedAmount
		createdAt := a.CreatedAt
		r.RazorpayOrderID = &orderID
		r.BaseAmount = &base
		r.ChargedAmount = &charged
		r.DiscountAmount = a.DiscountAmount
		r.GatewayFee = a.GatewayFee
		r.OrderCreatedAt = &createdAt
		r.PaymentStatus = model.StatusPending
		r.FailureCode = ""
		r.FailureReason = ""
		return nil
	})
	return err
}

func (s *BoltStore) MarkPaid(ctx context.Context, id string, st model.Settlement) (*model.Registration, bool, error) {
	reg, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus == model.StatusPaid {
			return ErrConditionFailed
		}
		orderID, paymentID := st.OrderID, st.PaymentID
		paidAt := st.PaidAt
		r.PaymentStatus = model.StatusPaid
		r.RazorpayOrderID = &orderID
		r.RazorpayPaymentID = &paymentID
		r.PaymentDate = &paidAt
		if st.BaseAmount != nil {
			v := *st.BaseAmount
			r.BaseAmount = &v
		}
		if st.ChargedAmount != nil {
			v := *st.ChargedAmount
			r.ChargedAmount = &v
		}
		r.InvoiceNumber = st.InvoiceNumber
		r.FailureCode = ""
		r.FailureReason = ""
		return nil
	})
	if errors.Is(err, ErrConditionFailed) {
		current, gerr := s.GetRegistration(ctx, id)
		return current, false, gerr
	}
	if err != nil {
		return nil, false, err
	}
	return reg, true, nil
}

func (s *BoltStore) MarkFailed(_ context.Context, id, code, reason string) (bool, error) {
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus != model.StatusPending {
			return ErrConditionFailed
		}
		r.PaymentStatus = model.StatusFailed
		r.FailureCode = code
		r.FailureReason = reason
		return nil
	})
	return transitioned(err)
}

func (s *BoltStore) MarkAbandoned(_ context.Context, id, orderID string) (bool, error) {
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus != model.StatusPending || r.RazorpayOrderID == nil || *r.RazorpayOrderID != orderID {
			return ErrConditionFailed
		}
		r.PaymentStatus = model.StatusAbandoned
		return nil
	})
	return transitioned(err)
}

func (s *BoltStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]model.Registration, error) {
	var out []model.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistrations).ForEach(func(_, v []byte) error {
			var r model.Registration
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.PaymentStatus == model.StatusPending && r.RazorpayOrderID != nil &&
				r.OrderCreatedAt != nil && r.OrderCreatedAt.Before(cutoff) {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderCreatedAt.Before(*out[j].OrderCreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BoltStore) ClaimConfirmation(_ context.Context, id string) (bool, error) {
	_, err := s.mutate(id, func(r *model.Registration) error {
		if r.PaymentStatus != model.StatusPaid || r.ConfirmationEmailSent {
			return ErrConditionFailed
		}
		r.ConfirmationEmailSent = true
		return nil
	})
	return transitioned(err)
}

func (s *BoltStore) ReleaseConfirmation(_ context.Context, id string) error {
	_, err := s.mutate(id, func(r *model.Registration) error {
		r.ConfirmationEmailSent = false
		return nil
	})
	return err
}

func (s *BoltStore) SetConfirmationSent(_ context.Context, id string) error {
	_, err := s.mutate(id, func(r *model.Registration) error {
		r.ConfirmationEmailSent = true
		return nil
	})
	return err
}

func (s *BoltStore) mutateCoupon(code string, fn func(c *model.Coupon) error) (*model.Coupon, error) {
	var out model.Coupon
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoupons)
		if err := getJSON(b, code, &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		out.UpdatedAt = time.Now().UTC()
		return putJSON(b, code, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) GetCoupon(_ context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketCoupons), code, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ReserveCoupon(_ context.Context, code string, now time.Time) (*model.Coupon, error) {
	return s.mutateCoupon(code, func(c *model.Coupon) error {
		if !c.IsActive || (c.ExpiresAt != nil && c.ExpiresAt.Before(now)) {
			return ErrConditionFailed
		}
		if c.MaxUsage != nil && c.UsageCount+c.ReservedCount >= *c.MaxUsage {
			return ErrConditionFailed
		}
		c.ReservedCount++
		return nil
	})
}

func (s *BoltStore) CommitCoupon(_ context.Context, code string, held bool) error {
	_, err := s.mutateCoupon(code, func(c *model.Coupon) error {
		c.UsageCount++
		if held && c.ReservedCount > 0 {
			c.ReservedCount--
		}
		return nil
	})
	return err
}

func (s *BoltStore) ReleaseCoupon(_ context.Context, code string) error {
	_, err := s.mutateCoupon(code, func(c *model.Coupon) error {
		if c.ReservedCount > 0 {
			c.ReservedCount--
		}
		return nil
	})
	return err
}

func (s *BoltStore) CreateCoupon(_ context.Context, c *model.Coupon) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCoupons)
		if b.Get([]byte(c.Code)) != nil {
			return ErrDuplicate
		}
		c.UpdatedAt = c.CreatedAt
		return putJSON(b, c.Code, c)
	})
}

func (s *BoltStore) ListCoupons(_ context.Context) ([]model.Coupon, error) {
	var out []model.Coupon
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCoupons).ForEach(func(_, v []byte) error {
			var c model.Coupon
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStore) SetCouponActive(_ context.Context, code string, active bool) (*model.Coupon, error) {
	return s.mutateCoupon(code, func(c *model.Coupon) error {
		c.IsActive = active
		return nil
	})
}

func (s *BoltStore) CreateAdmin(_ context.Context, a *model.Admin) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdmins)
		if b.Get([]byte(a.Email)) != nil {
			return ErrDuplicate
		}
		return putJSON(b, a.Email, boltAdmin{ID: a.ID, Email: a.Email, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt})
	})
}

// boltAdmin keeps the password hash, which model.Admin hides from JSON.
type boltAdmin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s *BoltStore) GetAdminByEmail(_ context.Context, email string) (*model.Admin, error) {
	var a boltAdmin
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketAdmins), email, &a)
	})
	if err != nil {
		return nil, err
	}
	return &model.Admin{ID: a.ID, Email: a.Email, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt}, nil
}
