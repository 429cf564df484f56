package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rsvp/internal/apperr"
	"rsvp/internal/broadcast"
	"rsvp/internal/credential"
	"rsvp/internal/token"
)

type published struct {
	typ     broadcast.EventType
	payload any
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
}

func (b *fakeBus) Publish(_ context.Context, typ broadcast.EventType, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{typ, payload})
}

func (b *fakeBus) count(typ broadcast.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.typ == typ {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, store Store, opts ...Option) (*Service, *token.Service, *fakeBus) {
	t.Helper()
	tokens, err := token.New([]byte("0123456789abcdef0123456789abcdef"), token.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	bus := &fakeBus{}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(store, tokens, bus, opts...), tokens, bus
}

func boolPtr(v bool) *bool { return &v }

func yes() *bool { return boolPtr(true) }
func no() *bool { return boolPtr(false) }

func ashaInput() Input {
	return Input{
		FullName:        "Asha Rao",
		PhoneNumber:     "9876543210",
		Attending:       yes(),
		MealPreferences: []string{"Veg"},
		FamilyCount:     2,
		FamilyMembers:   []string{"Ravi Rao"},
	}
}

func TestRegisterAttendingGuest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc, tokens, bus := newTestService(t, store)

	reg, err := svc.Register(ctx, ashaInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !credential.ValidCode(reg.ConfirmationCode) {
		t.Fatalf("confirmation code %q is not 4 digits", reg.ConfirmationCode)
	}

	claims, err := tokens.Verify(reg.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.RecordID != reg.Record.ID || claims.ConfirmationCode != reg.ConfirmationCode {
		t.Fatalf("claims = %+v, record %s code %s", claims, reg.Record.ID, reg.ConfirmationCode)
	}

	payload, err := credential.Decode(reg.Credential)
	if err != nil {
		t.Fatalf("decode credential: %v", err)
	}
	if payload.ConfirmationCode != reg.ConfirmationCode || payload.FullName != "Asha Rao" || payload.FamilyCount != 2 {
		t.Fatalf("credential payload = %+v", payload)
	}

	stored, _ := store.FindByID(ctx, reg.Record.ID)
	if stored == nil || stored.State() != StateConfirmed || stored.Attended || stored.AttendedAt != nil {
		t.Fatalf("stored record = %+v", stored)
	}
	if stored.Credential != reg.Credential {
		t.Fatal("stored credential differs from the one returned")
	}
	if bus.count(broadcast.RegistrationCreated) != 1 {
		t.Fatalf("registration-created published %d times", bus.count(broadcast.RegistrationCreated))
	}

	st, _ := svc.Stats(ctx)
	if st != (Stats{TotalRSVPs: 1, Attending: 1, VegCount: 1}) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegisterThenCheckInTwice(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService(t, NewMemoryStore())

	reg, err := svc.Register(ctx, ashaInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := svc.CheckIn(ctx, reg.Record.ID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.ID != reg.Record.ID || !res.AttendedAt.Equal(testNow) {
		t.Fatalf("check-in result = %+v", res)
	}
	if bus.count(broadcast.GuestCheckedIn) != 1 {
		t.Fatal("guest-checked-in not published")
	}

	if _, err := svc.CheckIn(ctx, reg.Record.ID); !errors.Is(err, ErrAlreadyCheckedIn) {
		t.Fatalf("second check-in err = %v, want already checked in", err)
	}
	if bus.count(broadcast.GuestCheckedIn) != 1 {
		t.Fatal("failed check-in must not publish")
	}

	st, _ := svc.Stats(ctx)
	if st.Attended != 1 {
		t.Fatalf("attended = %d, want 1", st.Attended)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc, _, _ := newTestService(t, store)

	if _, err := svc.Register(ctx, ashaInput()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	second := ashaInput()
	second.FullName = "Someone Else"
	second.PhoneNumber = "98765 43210"
	_, err := svc.Register(ctx, second)
	if !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("err = %v, want duplicate phone", err)
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("kind = %s, want conflict", apperr.KindOf(err))
	}
	recs, _ := store.List(ctx)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
}

func TestRegisterNotAttending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc, _, bus := newTestService(t, store)

	reg, err := svc.Register(ctx, Input{FullName: "Meera", Attending: no()})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.ConfirmationCode != "" || reg.Token != "" || reg.Credential != "" || reg.QRCodeDataURL != "" {
		t.Fatalf("non-attending registration got artifacts: %+v", reg)
	}
	if reg.Record.State() != StateRegistered {
		t.Fatalf("state = %s", reg.Record.State())
	}
	if bus.count(broadcast.RegistrationCreated) != 1 {
		t.Fatal("registration-created not published")
	}

	if _, err := svc.CheckIn(ctx, reg.Record.ID); !errors.Is(err, ErrNotAttending) {
		t.Fatalf("check-in err = %v, want not attending", err)
	}

	// a non-attending record does not block the phone or the code space
	again := ashaInput()
	if _, err := svc.Register(ctx, again); err != nil {
		t.Fatalf("attending register after decline: %v", err)
	}
	st, _ := svc.Stats(ctx)
	if st.TotalRSVPs != 2 || st.Attending != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, bus := newTestService(t, NewMemoryStore())

	cases := map[string]struct {
		in   Input
		want error
	}{
		"blank name":       {Input{FullName: "  ", Attending: yes()}, ErrMissingFields},
		"attending absent": {Input{FullName: "Asha"}, ErrMissingFields},
		"no phone": {Input{FullName: "Asha", Attending: yes(), MealPreferences: []string{"Veg"}},
			ErrMissingFields},
		"no meals": {Input{FullName: "Asha", Attending: yes(), PhoneNumber: "1"}, ErrMissingFields},
		"unknown meal": {Input{FullName: "Asha", Attending: yes(), PhoneNumber: "1", MealPreferences: []string{"Vegan"}},
			ErrInvalidInput},
		"members mismatch": {Input{FullName: "Asha", Attending: yes(), PhoneNumber: "1", MealPreferences: []string{"Veg"},
			FamilyCount: 3, FamilyMembers: []string{"Ravi"}}, ErrInvalidInput},
		"negative family": {Input{FullName: "Asha", Attending: yes(), PhoneNumber: "1", MealPreferences: []string{"Veg"},
			FamilyCount: -1}, ErrInvalidInput},
	}
	for name, tc := range cases {
		if _, err := svc.Register(context.Background(), tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", name, err, tc.want)
		}
	}
	if len(bus.events) != 0 {
		t.Fatalf("rejected registrations published %d events", len(bus.events))
	}
}

func TestRegisterRedrawsCollidingCode(t *testing.T) {
	ctx := context.Background()
	codes := []string{"4821", "4821", "4821", "5930"}
	var i int32
	next := func() (string, error) {
		n := atomic.AddInt32(&i, 1) - 1
		return codes[n], nil
	}
	svc, _, _ := newTestService(t, NewMemoryStore(), WithCodeSource(next))

	first, err := svc.Register(ctx, ashaInput())
	if err != nil || first.ConfirmationCode != "4821" {
		t.Fatalf("first = %q, %v", first.ConfirmationCode, err)
	}
	other := ashaInput()
	other.PhoneNumber = "9000000001"
	second, err := svc.Register(ctx, other)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.ConfirmationCode != "5930" {
		t.Fatalf("second code = %q, want redraw to 5930", second.ConfirmationCode)
	}
}

func TestRegisterCodeSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore(),
		WithCodeSource(func() (string, error) { return "1234", nil }),
		WithMaxCodeAttempts(3))

	if _, err := svc.Register(ctx, ashaInput()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	other := ashaInput()
	other.PhoneNumber = "9000000001"
	_, err := svc.Register(ctx, other)
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("err = %v, want code space exhausted", err)
	}
}

func TestConcurrentCheckInSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService(t, NewMemoryStore())
	reg, err := svc.Register(ctx, ashaInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const n = 16
	var ok, already int32
	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckIn(ctx, reg.Record.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrAlreadyCheckedIn):
				atomic.AddInt32(&already, 1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || already != n-1 {
		t.Fatalf("ok=%d already=%d", ok, already)
	}
	if bus.count(broadcast.GuestCheckedIn) != 1 {
		t.Fatalf("guest-checked-in published %d times", bus.count(broadcast.GuestCheckedIn))
	}
}

func TestConcurrentRegisterSamePhone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc, _, _ := newTestService(t, store)

	const n = 8
	var ok, dup int32
	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, ashaInput())
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrDuplicatePhone):
				atomic.AddInt32(&dup, 1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || dup != n-1 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
}

func TestCheckInUnknownAndInvalidID(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore())

	if _, err := svc.CheckIn(context.Background(), "5f0c6c1e-8f4b-4c55-9a55-2f7e3c1a9b10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := svc.CheckIn(context.Background(), "not-an-id"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestResolveMethodsAgree(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	reg, err := svc.Register(ctx, ashaInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	byCode, err := svc.Resolve(ctx, MethodCode, reg.ConfirmationCode)
	if err != nil {
		t.Fatalf("by code: %v", err)
	}
	byPhone, err := svc.Resolve(ctx, MethodPhone, "(987) 654-3210")
	if err != nil {
		t.Fatalf("by phone: %v", err)
	}
	byCred, err := svc.Resolve(ctx, MethodCredential, reg.Credential)
	if err != nil {
		t.Fatalf("by credential: %v", err)
	}
	if byCode.ID != reg.Record.ID || byPhone.ID != byCode.ID || byCred.ID != byCode.ID {
		t.Fatalf("ids differ: code=%s phone=%s credential=%s", byCode.ID, byPhone.ID, byCred.ID)
	}
}

func TestResolveMissesAreUniform(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	if _, err := svc.Register(ctx, Input{FullName: "Meera", PhoneNumber: "5550001", Attending: no()}); err != nil {
		t.Fatalf("register declined guest: %v", err)
	}

	unknownCred, _ := credential.Encode(credential.Payload{FullName: "Ghost", ConfirmationCode: "7777"})
	misses := []struct {
		method Method
		input  string
	}{
		{MethodCode, "9999"},
		{MethodPhone, "0000000000"},
		{MethodPhone, "5550001"},
		{MethodCredential, unknownCred},
	}
	var msgs []string
	for _, m := range misses {
		_, err := svc.Resolve(ctx, m.method, m.input)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s %q: err = %v, want not found", m.method, m.input, err)
		}
		msgs = append(msgs, err.Error())
	}
	for _, msg := range msgs[1:] {
		if msg != msgs[0] {
			t.Fatalf("not-found messages differ: %q", msgs)
		}
	}
}

func TestResolveRejectsBadCredentialAndInput(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Resolve(ctx, MethodCredential, "not a credential")
	if apperr.KindOf(err) != apperr.KindCredential {
		t.Fatalf("kind = %s, want credential", apperr.KindOf(err))
	}
	if _, err := svc.Resolve(ctx, MethodCredential, `{"fullName":"x"}`); !errors.Is(err, credential.ErrMissingField) {
		t.Fatalf("err = %v, want missing field", err)
	}
	if _, err := svc.Resolve(ctx, MethodCode, "  "); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("err = %v, want missing fields", err)
	}
	if _, err := ParseMethod("face"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if m, err := ParseMethod(" Phone "); err != nil || m != MethodPhone {
		t.Fatalf("ParseMethod = %q, %v", m, err)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Stats(context.Context) (Stats, error) { return Stats{}, errors.New("connection refused") }

func TestStoreFailureIsDependency(t *testing.T) {
	svc, _, _ := newTestService(t, failingStore{NewMemoryStore()})
	_, err := svc.Stats(context.Background())
	if apperr.KindOf(err) != apperr.KindDependency {
		t.Fatalf("kind = %s, want dependency", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("cause lost: %v", err)
	}
}

type stubQR struct{}

func (stubQR) DataURL(blob string) (string, error) { return "data:image/png;base64,stub", nil }

func TestRegisterRendersQR(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemoryStore(), WithQRRenderer(stubQR{}))
	reg, err := svc.Register(context.Background(), ashaInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.QRCodeDataURL != "data:image/png;base64,stub" {
		t.Fatalf("qr = %q", reg.QRCodeDataURL)
	}
}

func TestRandomCodeRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := RandomCode()
		if err != nil {
			t.Fatalf("random code: %v", err)
		}
		if !credential.ValidCode(code) {
			t.Fatalf("code %q outside [1000, 9999]", code)
		}
	}
}

func TestSingleGuestScenario(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())

	var in Input
	body := `{"fullName":"Asha Rao","attending":"Yes","phoneNumber":"9998887777","mealPreferences":["Veg"],"familyCount":1}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	reg, err := svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !credential.ValidCode(reg.ConfirmationCode) || reg.Credential == "" || reg.Token == "" {
		t.Fatalf("registration = %+v", reg)
	}

	byPhone, err := svc.Resolve(ctx, MethodPhone, "9998887777")
	if err != nil {
		t.Fatalf("resolve by phone: %v", err)
	}
	byCode, err := svc.Resolve(ctx, MethodCode, reg.ConfirmationCode)
	if err != nil || byCode.ID != byPhone.ID {
		t.Fatalf("resolve by code = %+v, %v", byCode, err)
	}

	if _, err := svc.CheckIn(ctx, reg.Record.ID); err != nil {
		t.Fatalf("check in: %v", err)
	}
	if _, err := svc.CheckIn(ctx, reg.Record.ID); !errors.Is(err, ErrAlreadyCheckedIn) {
		t.Fatalf("second check in err = %v", err)
	}
}
