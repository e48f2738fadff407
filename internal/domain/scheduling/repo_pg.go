package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/pkg/apperr"
)

var dialect = goqu.Dialect("postgres")

func pgClock(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c.Minutes()) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPG(t pgtype.Time) Clock {
	return ClockFromMinutes(int(t.Microseconds / int64(time.Minute/time.Microsecond)))
}

// -- Slot Repository --

type slotRepoPG struct {
	pool *pgxpool.Pool
}

func NewSlotRepo(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

const slotCols = `id, doctor_id, slot_date, start_time, end_time, available, created_at, updated_at`

const insertSlotSQL = `
	INSERT INTO time_slot (id, doctor_id, slot_date, start_time, end_time, available)
	VALUES ($1, $2, $3, $4, $5, TRUE)`

func (r *slotRepoPG) Create(ctx context.Context, s *TimeSlot) error {
	s.ID = uuid.New()
	s.Available = true
	err := db.Conn(ctx, r.pool).QueryRow(ctx, insertSlotSQL+` RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.Date.Midnight(), pgClock(s.Start), pgClock(s.End),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "time_slot_doctor_start_key"):
		return apperr.Conflict("a slot already starts at this time for this doctor")
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("doctor not found")
	case err != nil:
		return fmt.Errorf("insert time slot: %w", err)
	}
	return nil
}

func (r *slotRepoPG) CreateMany(ctx context.Context, slots []*TimeSlot) ([]*TimeSlot, error) {
	batch := &pgx.Batch{}
	for _, s := range slots {
		s.ID = uuid.New()
		s.Available = true
		batch.Queue(insertSlotSQL+`
			ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
			RETURNING created_at, updated_at`,
			s.ID, s.DoctorID, s.Date.Midnight(), pgClock(s.Start), pgClock(s.End))
	}

	results := db.Conn(ctx, r.pool).SendBatch(ctx, batch)
	defer results.Close()

	created := make([]*TimeSlot, 0, len(slots))
	for _, s := range slots {
		err := results.QueryRow().Scan(&s.CreatedAt, &s.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if db.IsForeignKeyViolation(err) {
			return nil, apperr.NotFound("doctor not found")
		}
		if err != nil {
			return nil, fmt.Errorf("insert time slot batch: %w", err)
		}
		created = append(created, s)
	}
	return created, nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+` FROM time_slot WHERE id = $1`, id))
}

func (r *slotRepoPG) Find(ctx context.Context, q SlotQuery) ([]*TimeSlot, error) {
	ds := dialect.From("time_slot").
		Select(goqu.L(slotCols)).
		Where(
			goqu.Ex{"doctor_id": q.DoctorID.String()},
			goqu.C("slot_date").Gte(q.From.Midnight()),
			goqu.C("slot_date").Lte(q.To.Midnight()),
		).
		Order(goqu.C("slot_date").Asc(), goqu.C("start_time").Asc())
	if !q.IncludeUnavailable {
		ds = ds.Where(goqu.Ex{"available": true})
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build slot query: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query time slots: %w", err)
	}
	defer rows.Close()

	var slots []*TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *slotRepoPG) Reserve(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	conn := db.Conn(ctx, r.pool)
	s, err := scanSlot(conn.QueryRow(ctx, `
		UPDATE time_slot SET available = FALSE, updated_at = NOW()
		WHERE id = $1 AND available
		RETURNING `+slotCols, id))
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return s, err
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM time_slot WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check time slot: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("time slot not found")
	}
	return nil, apperr.Wrap(apperr.KindConflict, "slot unavailable", ErrSlotAlreadyReserved)
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE time_slot SET available = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("release time slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM time_slot WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete time slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("time slot not found")
	}
	return nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var (
		s          TimeSlot
		day        time.Time
		start, end pgtype.Time
	)
	err := row.Scan(&s.ID, &s.DoctorID, &day, &start, &end, &s.Available, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("time slot not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan time slot: %w", err)
	}
	s.Date = DateOf(day)
	s.Start = clockFromPG(start)
	s.End = clockFromPG(end)
	return &s, nil
}

// -- Appointment Repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, patient_name, doctor_id, slot_id, start_time, end_time,
	status, reason, notes, created_at, updated_at`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, patient_name, doctor_id, slot_id,
			start_time, end_time, status, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.DoctorID, a.SlotID,
		a.Start, a.End, string(a.Status), a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "appointment_live_slot_key") {
		return apperr.Wrap(apperr.KindConflict, "slot unavailable", ErrSlotAlreadyReserved)
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET status = $2, notes = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), a.Notes,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("appointment not found")
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	ds := dialect.From("appointment")
	if f.DoctorID != nil {
		ds = ds.Where(goqu.Ex{"doctor_id": f.DoctorID.String()})
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": f.PatientID.String()})
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("start_time").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("start_time").Lt(*f.To))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment count: %w", err)
	}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	listSQL, listArgs, err := ds.Select(goqu.L(apptCols)).
		Order(goqu.C("start_time").Asc(), goqu.C("id").Asc()).
		Limit(uint(f.Limit)).
		Offset(uint(f.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment query: %w", err)
	}

	rows, err := conn.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.SlotID,
		&a.Start, &a.End, &status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	a.Status = Status(status)
	return &a, nil
}
