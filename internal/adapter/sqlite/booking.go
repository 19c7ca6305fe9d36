package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// --- Appointments ---

// CreateAppointment inserts an appointment.
func (s *Store) CreateAppointment(ctx context.Context, a domain.Appointment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, tenant_id, service, customer_name, customer_email,
		 customer_phone, slot_start, slot_end, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Service, a.CustomerName, a.CustomerEmail,
		a.CustomerPhone, formatTime(a.SlotStart), formatTime(a.SlotEnd),
		string(a.Status), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting appointment: %w", err)
	}
	return nil
}

// FindAppointmentByID returns an appointment scoped to a tenant.
func (s *Store) FindAppointmentByID(ctx context.Context, id, tenantID string) (domain.Appointment, error) {
	var a domain.Appointment
	var slotStart, slotEnd, status, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, service, customer_name, customer_email, customer_phone,
		 slot_start, slot_end, status, created_at, updated_at
		 FROM appointments WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.Service, &a.CustomerName, &a.CustomerEmail,
		&a.CustomerPhone, &slotStart, &slotEnd, &status, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Appointment{}, domain.ErrAppointmentNotFound
		}
		return domain.Appointment{}, fmt.Errorf("scanning appointment: %w", err)
	}

	a.SlotStart = parseTime(slotStart)
	a.SlotEnd = parseTime(slotEnd)
	a.Status = domain.AppointmentStatus(status)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// --- Sessions ---

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}
	if sess.Metadata == nil {
		metadata = []byte(`{}`)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, customer_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.CustomerID, string(metadata), formatTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// FindSessionByID returns a session by its unique identifier.
func (s *Store) FindSessionByID(ctx context.Context, id string) (domain.Session, error) {
	var sess domain.Session
	var metadata, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, customer_id, metadata, created_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.TenantID, &sess.CustomerID, &metadata, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("scanning session: %w", err)
	}

	sess.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshaling session metadata: %w", err)
	}
	return sess, nil
}

// LinkCustomer attaches a customer identity to a session.
func (s *Store) LinkCustomer(ctx context.Context, sessionID, customerID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET customer_id = ? WHERE id = ?`,
		customerID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("linking customer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// --- Waitlist ---

// CreateWaitlistEntry inserts a waitlist entry.
func (s *Store) CreateWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO waitlist_entries (id, tenant_id, service, customer_name, customer_email,
		 weekdays, time_from, time_to, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Service, e.CustomerName, e.CustomerEmail,
		encodeWeekdays(e.Weekdays), e.TimeFrom, e.TimeTo, string(e.Status),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting waitlist entry: %w", err)
	}
	return nil
}

// FindWaiting returns waiting entries for a tenant and service, FIFO by
// creation time.
func (s *Store) FindWaiting(ctx context.Context, tenantID, service string, limit int) ([]domain.WaitlistEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, service, customer_name, customer_email,
		 weekdays, time_from, time_to, status, created_at
		 FROM waitlist_entries
		 WHERE tenant_id = ? AND service = ? AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		tenantID, service, string(domain.WaitlistWaiting), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing waitlist entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.WaitlistEntry
	for rows.Next() {
		var e domain.WaitlistEntry
		var weekdays, status, createdAt string

		err := rows.Scan(&e.ID, &e.TenantID, &e.Service, &e.CustomerName,
			&e.CustomerEmail, &weekdays, &e.TimeFrom, &e.TimeTo, &status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning waitlist entry: %w", err)
		}

		e.Weekdays = decodeWeekdays(weekdays)
		e.Status = domain.WaitlistStatus(status)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkNotified moves a waiting entry to notified.
func (s *Store) MarkNotified(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = ? WHERE id = ? AND status = ?`,
		string(domain.WaitlistNotified), id, string(domain.WaitlistWaiting),
	)
	if err != nil {
		return fmt.Errorf("marking waitlist entry notified: %w", err)
	}
	return nil
}

func encodeWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

// --- Outbox ---

// EnqueueOutbox stages an outbound message.
func (s *Store) EnqueueOutbox(ctx context.Context, m domain.OutboxMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_messages (id, tenant_id, appointment_id, channel, recipient, body, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.AppointmentID, m.Channel, m.Recipient, m.Body,
		string(m.Status), formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting outbox message: %w", err)
	}
	return nil
}

// AbortQueuedOutbox aborts every queued message tied to an appointment.
func (s *Store) AbortQueuedOutbox(ctx context.Context, tenantID, appointmentID string, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND appointment_id = ? AND status = ?`,
		string(domain.OutboxAborted), formatTime(now),
		tenantID, appointmentID, string(domain.OutboxQueued),
	)
	if err != nil {
		return 0, fmt.Errorf("aborting outbox messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}
