package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/pkg/apperr"
)

var (
	testLoc = time.FixedZone("clinic", 60*60)
	testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, testLoc)
)

// -- slot repo --

type memSlotRepo struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*TimeSlot
}

func newMemSlotRepo() *memSlotRepo {
	return &memSlotRepo{slots: make(map[uuid.UUID]*TimeSlot)}
}

func (m *memSlotRepo) dup(doctorID uuid.UUID, d Date, start Clock) bool {
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date == d && s.Start == start {
			return true
		}
	}
	return false
}

func (m *memSlotRepo) Create(_ context.Context, s *TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dup(s.DoctorID, s.Date, s.Start) {
		return apperr.Conflict("time slot already exists")
	}
	s.ID = uuid.New()
	s.Available = true
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *memSlotRepo) CreateMany(_ context.Context, slots []*TimeSlot) ([]*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created []*TimeSlot
	for _, s := range slots {
		if m.dup(s.DoctorID, s.Date, s.Start) {
			continue
		}
		s.ID = uuid.New()
		s.Available = true
		cp := *s
		m.slots[s.ID] = &cp
		created = append(created, s)
	}
	return created, nil
}

func (m *memSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperr.NotFound("time slot not found")
	}
	cp := *s
	return &cp, nil
}

func (m *memSlotRepo) Find(_ context.Context, q SlotQuery) ([]*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TimeSlot
	for _, s := range m.slots {
		if s.DoctorID != q.DoctorID || s.Date.Before(q.From) || s.Date.After(q.To) {
			continue
		}
		if !s.Available && !q.IncludeUnavailable {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (m *memSlotRepo) Reserve(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperr.NotFound("time slot not found")
	}
	if !s.Available {
		return nil, apperr.Wrap(apperr.KindConflict, "slot unavailable", ErrSlotAlreadyReserved)
	}
	s.Available = false
	cp := *s
	return &cp, nil
}

func (m *memSlotRepo) Release(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return false, nil
	}
	s.Available = true
	return true, nil
}

func (m *memSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return apperr.NotFound("time slot not found")
	}
	delete(m.slots, id)
	return nil
}

func (m *memSlotRepo) available(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	return ok && s.Available
}

// -- appointment repo --

type memAppointmentRepo struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*Appointment
	failCreate error
	locks      int
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *memAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	if a.SlotID != nil {
		for _, other := range m.items {
			if other.SlotID != nil && *other.SlotID == *a.SlotID && other.Status != StatusCancelled {
				return apperr.Wrap(apperr.KindConflict, "slot unavailable", ErrSlotAlreadyReserved)
			}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = testNow
	a.UpdatedAt = testNow
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointmentRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	m.locks++
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *memAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return apperr.NotFound("appointment not found")
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("appointment not found")
	}
	delete(m.items, id)
	return nil
}

func (m *memAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.items {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && (a.PatientID == nil || *a.PatientID != *f.PatientID) {
			continue
		}
		if f.From != nil && a.Start.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.Start.Before(*f.To) {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

func (m *memAppointmentRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// -- directory --

type memDirectory struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*identity.User
	profiles map[uuid.UUID]*identity.PatientProfile // by user id
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:    make(map[uuid.UUID]*identity.User),
		profiles: make(map[uuid.UUID]*identity.PatientProfile),
	}
}

func (d *memDirectory) add(role identity.Role, first string) *identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &identity.User{
		ID:        uuid.New(),
		Role:      role,
		FirstName: first,
		LastName:  "Test",
		Email:     first + "@clinic.test",
		Active:    true,
	}
	d.users[u.ID] = u
	return u
}

func (d *memDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

func (d *memDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, err := d.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != identity.RoleDoctor {
		return nil, apperr.NotFound("doctor not found")
	}
	return u, nil
}

func (d *memDirectory) GetOrCreateProfile(_ context.Context, userID uuid.UUID) (*identity.PatientProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok || u.Role != identity.RolePatient {
		return nil, apperr.NotFound("patient not found")
	}
	if p, ok := d.profiles[userID]; ok {
		return p, nil
	}
	p := &identity.PatientProfile{ID: uuid.New(), UserID: userID}
	d.profiles[userID] = p
	return p, nil
}

func (d *memDirectory) GetProfileByUser(_ context.Context, userID uuid.UUID) (*identity.PatientProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("patient profile not found")
	}
	return p, nil
}

func (d *memDirectory) GetProfile(_ context.Context, id uuid.UUID) (*identity.PatientProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient profile not found")
}

// -- tx / notifier --

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// snapshotTx restores both stores when fn fails, like a rolled back
// transaction. Not safe for concurrent use.
type snapshotTx struct {
	slots *memSlotRepo
	appts *memAppointmentRepo
}

func (s snapshotTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	slots := s.slots.snapshot()
	appts := s.appts.snapshot()
	if err := fn(ctx); err != nil {
		s.slots.restore(slots)
		s.appts.restore(appts)
		return err
	}
	return nil
}

func (m *memSlotRepo) snapshot() map[uuid.UUID]TimeSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]TimeSlot, len(m.slots))
	for id, s := range m.slots {
		out[id] = *s
	}
	return out
}

func (m *memSlotRepo) restore(snap map[uuid.UUID]TimeSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = make(map[uuid.UUID]*TimeSlot, len(snap))
	for id, s := range snap {
		s := s
		m.slots[id] = &s
	}
}

func (m *memAppointmentRepo) snapshot() map[uuid.UUID]Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]Appointment, len(m.items))
	for id, a := range m.items {
		out[id] = *a
	}
	return out
}

func (m *memAppointmentRepo) restore(snap map[uuid.UUID]Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[uuid.UUID]*Appointment, len(snap))
	for id, a := range snap {
		a := a
		m.items[id] = &a
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []BookingNotice
	result  NotifyResult
	panics  bool
}

func (n *recordingNotifier) NotifyBooked(_ context.Context, notice BookingNotice) NotifyResult {
	if n.panics {
		panic("smtp exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.result
}

// -- fixture --

type fixture struct {
	slots    *memSlotRepo
	appts    *memAppointmentRepo
	dir      *memDirectory
	notifier *recordingNotifier
	registry *SlotRegistry
	svc      *AppointmentService

	doctor    *identity.User
	other     *identity.User
	secretary *identity.User
	patient   *identity.User
}

func newFixture() *fixture {
	f := &fixture{
		slots:    newMemSlotRepo(),
		appts:    newMemAppointmentRepo(),
		dir:      newMemDirectory(),
		notifier: &recordingNotifier{result: NotifyResult{EmailSent: true}},
	}
	f.doctor = f.dir.add(identity.RoleDoctor, "alami")
	f.other = f.dir.add(identity.RoleDoctor, "bennani")
	f.secretary = f.dir.add(identity.RoleSecretary, "sara")
	f.patient = f.dir.add(identity.RolePatient, "youssef")

	f.registry = NewSlotRegistry(f.slots, f.dir, testLoc, zerolog.Nop())
	f.registry.now = func() time.Time { return testNow }
	f.svc = NewAppointmentService(f.registry, f.appts, f.dir, f.dir, passthroughTx{}, f.notifier, zerolog.Nop())
	return f
}

func actorOf(u *identity.User) identity.Actor {
	return identity.Actor{UserID: u.ID, Role: u.Role}
}

// seedSlot stores an available slot for doctor on testNow's day + days.
func (f *fixture) seedSlot(doctor *identity.User, days int, start, end string) *TimeSlot {
	s := &TimeSlot{
		DoctorID: doctor.ID,
		Date:     DateOf(testNow).AddDays(days),
		Start:    mustClock(start),
		End:      mustClock(end),
	}
	if err := f.slots.Create(context.Background(), s); err != nil {
		panic(err)
	}
	return s
}

func mustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}
