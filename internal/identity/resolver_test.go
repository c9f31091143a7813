package identity

import (
	"context"
	"errors"
	"testing"

	"studysphere/internal/domain/user"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeUsers struct {
	users map[uuid.UUID]user.User
	err   error
	calls int
}

func (f *fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (user.User, error) {
	f.calls++
	if f.err != nil {
		return user.User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return user.User{}, studysphere_errors.ErrNotFound
	}
	return u, nil
}

type fakeProfiles struct {
	tutors   map[uuid.UUID]user.TutorProfile
	students map[uuid.UUID]user.StudentProfile
	calls    int
}

func (f *fakeProfiles) GetTutorProfileByUserID(_ context.Context, id uuid.UUID) (user.TutorProfile, error) {
	f.calls++
	p, ok := f.tutors[id]
	if !ok {
		return user.TutorProfile{}, studysphere_errors.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) GetStudentProfileByUserID(_ context.Context, id uuid.UUID) (user.StudentProfile, error) {
	f.calls++
	p, ok := f.students[id]
	if !ok {
		return user.StudentProfile{}, studysphere_errors.ErrNotFound
	}
	return p, nil
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, key string) (string, error) {
	return "https://cdn.test/" + key + "?sig=1", nil
}

func newFakes() (*fakeUsers, *fakeProfiles) {
	return &fakeUsers{users: map[uuid.UUID]user.User{}},
		&fakeProfiles{tutors: map[uuid.UUID]user.TutorProfile{}, students: map[uuid.UUID]user.StudentProfile{}}
}

func TestResolve_PrimaryName(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.New()
	users.users[id] = user.User{ID: id, FirstName: " Ada ", LastName: "Lovelace", Email: "ada@acme.com", Role: user.RoleTutor}

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, SourcePrimary, got.Source)
	assert.True(t, got.Found)
	assert.Equal(t, 1, users.calls)
	assert.Zero(t, profiles.calls)
}

func TestResolve_ProfileFallback(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.New()
	users.users[id] = user.User{ID: id, FirstName: "undefined", Email: "t@acme.com", Role: user.RoleTutor}
	profiles.tutors[id] = user.TutorProfile{UserID: id, User: user.User{ID: id, FirstName: "Tina", LastName: "Turing"}}

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.Equal(t, "Tina Turing", got.Name)
	assert.Equal(t, SourceProfile, got.Source)
	assert.Equal(t, 1, profiles.calls)
}

func TestResolve_EmailFallback(t *testing.T) {
	// user with a blank last name and no profile data
	users, profiles := newFakes()
	id := uuid.New()
	users.users[id] = user.User{ID: id, FirstName: "Alice", Email: "a.lee@acme.com", Role: user.RoleStudent}

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.Equal(t, "A Lee", got.Name)
	assert.Equal(t, SourceEmail, got.Source)
	assert.Equal(t, "student", got.Role)
}

func TestResolve_UnknownUserProbesBothProfiles(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.New()
	profiles.students[id] = user.StudentProfile{UserID: id, User: user.User{ID: id, FirstName: "Sam", LastName: "Student", Email: "sam@acme.com"}}

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.Equal(t, "Sam Student", got.Name)
	assert.Equal(t, user.RoleStudent, got.Role)
	assert.Equal(t, "sam@acme.com", got.Email)
	assert.True(t, got.Found)
	// primary, tutor probe, student probe
	assert.Equal(t, 1, users.calls)
	assert.Equal(t, 2, profiles.calls)
}

func TestResolve_IdentifierFallback(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.MustParse("3f2b1c9e-0000-4000-8000-00000000068a")

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.Equal(t, "User 068a", got.Name)
	assert.Equal(t, SourceIdentifier, got.Source)
	assert.False(t, got.Found)
}

func TestResolve_StoreErrorsAreMissingData(t *testing.T) {
	users, profiles := newFakes()
	users.err = errors.New("connection refused")
	id := uuid.New()

	got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)

	assert.NotEmpty(t, got.Name)
	assert.Equal(t, SourceIdentifier, got.Source)
}

func TestResolve_NeverEmpty(t *testing.T) {
	cases := []user.User{
		{},
		{FirstName: "  ", LastName: "  "},
		{Email: "@acme.com"},
		{Email: "...@acme.com", Role: "tutor"},
		{FirstName: "null", LastName: "null", Email: "not-an-email"},
	}
	for _, u := range cases {
		users, profiles := newFakes()
		id := uuid.New()
		u.ID = id
		users.users[id] = u

		got := NewResolver(users, profiles, nil, logger.NewNop()).Resolve(context.Background(), id)
		assert.NotEmpty(t, got.Name, "user %+v", u)
		assert.Equal(t, id.String(), got.ID)
	}
}

func TestResolve_SignsStoredAvatarKeys(t *testing.T) {
	users, profiles := newFakes()
	withKey, withURL := uuid.New(), uuid.New()
	users.users[withKey] = user.User{ID: withKey, FirstName: "K", LastName: "Ey", ProfileImage: "avatars/k.png"}
	users.users[withURL] = user.User{ID: withURL, FirstName: "U", LastName: "Rl", ProfileImage: "https://img.test/u.png"}

	r := NewResolver(users, profiles, fakeSigner{}, logger.NewNop())

	assert.Equal(t, "https://cdn.test/avatars/k.png?sig=1", r.Resolve(context.Background(), withKey).ProfileImage)
	assert.Equal(t, "https://img.test/u.png", r.Resolve(context.Background(), withURL).ProfileImage)
}

type mapCache struct {
	entries map[uuid.UUID]ResolvedIdentity
	err     error
}

func (c *mapCache) GetIdentity(_ context.Context, id uuid.UUID) (ResolvedIdentity, bool, error) {
	if c.err != nil {
		return ResolvedIdentity{}, false, c.err
	}
	ri, ok := c.entries[id]
	return ri, ok, nil
}

func (c *mapCache) SetIdentity(_ context.Context, ri ResolvedIdentity) error {
	if c.err != nil {
		return c.err
	}
	c.entries[uuid.MustParse(ri.ID)] = ri
	return nil
}

func TestCachedResolver(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.New()
	users.users[id] = user.User{ID: id, FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.com", Role: user.RoleTutor}
	cache := &mapCache{entries: map[uuid.UUID]ResolvedIdentity{}}
	r := NewCachedResolver(NewResolver(users, profiles, nil, logger.NewNop()), cache, logger.NewNop())
	ctx := context.Background()

	first := r.Resolve(ctx, id)
	second := r.Resolve(ctx, id)
	assert.Equal(t, "Ada Lovelace", second.Name)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, users.calls)

	// unknown ids are never cached
	ghost := uuid.New()
	assert.False(t, r.Resolve(ctx, ghost).Found)
	assert.False(t, r.Resolve(ctx, ghost).Found)
	assert.Equal(t, 3, users.calls)
	assert.Len(t, cache.entries, 1)
}

func TestCachedResolver_CacheDown(t *testing.T) {
	users, profiles := newFakes()
	id := uuid.New()
	users.users[id] = user.User{ID: id, Email: "grace.hopper@acme.com", Role: user.RoleStudent}
	r := NewCachedResolver(NewResolver(users, profiles, nil, logger.NewNop()), &mapCache{err: errors.New("redis down")}, logger.NewNop())

	got := r.Resolve(context.Background(), id)
	assert.Equal(t, "Grace Hopper", got.Name)
	assert.True(t, got.Found)
}
