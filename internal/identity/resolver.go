// Package identity turns a bare participant id into something a
// conversation list can display, falling back through every source of
// name data StudySphere has.
package identity

import (
	"context"
	"errors"
	"strings"

	"studysphere/internal/domain/user"
	"studysphere/internal/metrics"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Source records which step of the chain produced the name.
type Source string

const (
	SourcePrimary    Source = "primary"
	SourceProfile    Source = "profile"
	SourceEmail      Source = "email"
	SourceIdentifier Source = "identifier"
)

// ResolvedIdentity is the display record for a participant. Name is never
// empty. Found is false when no stored record backs the id at all.
type ResolvedIdentity struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage"`
	Role         string `json:"role"`
	Source       Source `json:"-"`
	Found        bool   `json:"-"`
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
}

type ProfileLookup interface {
	GetTutorProfileByUserID(ctx context.Context, userID uuid.UUID) (user.TutorProfile, error)
	GetStudentProfileByUserID(ctx context.Context, userID uuid.UUID) (user.StudentProfile, error)
}

// AvatarSigner turns a stored object key into a fetchable URL.
type AvatarSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

type Resolver struct {
	users    UserLookup
	profiles ProfileLookup
	avatars  AvatarSigner
	logger   *logger.Logger
}

// NewResolver wires the lookups. profiles and avatars may be nil.
func NewResolver(users UserLookup, profiles ProfileLookup, avatars AvatarSigner, l *logger.Logger) *Resolver {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Resolver{users: users, profiles: profiles, avatars: avatars, logger: l.Named("identity")}
}

// Resolve never fails: lookup errors are treated as missing data and the
// chain moves on. It performs at most three reads.
func (r *Resolver) Resolve(ctx context.Context, id uuid.UUID) ResolvedIdentity {
	out := ResolvedIdentity{ID: id.String()}

	u, err := r.users.GetUserByID(ctx, id)
	switch {
	case err == nil:
		out.Found = true
		out.Email = u.Email
		out.Role = u.Role
		out.ProfileImage = u.ProfileImage
		if name, ok := FullName(u.FirstName, u.LastName); ok {
			return r.finish(ctx, out, name, SourcePrimary)
		}
	case !errors.Is(err, studysphere_errors.ErrNotFound):
		r.logger.Ctx(ctx).Warn("primary identity lookup failed", zap.String("participant_id", out.ID), zap.Error(err))
	}

	for _, role := range r.profileRoles(out) {
		linked, ok := r.profileUser(ctx, id, role)
		if !ok {
			continue
		}
		out.Found = true
		if out.Email == "" {
			out.Email = linked.Email
		}
		if out.ProfileImage == "" {
			out.ProfileImage = linked.ProfileImage
		}
		if out.Role == "" {
			out.Role = role
		}
		if name, ok := FullName(linked.FirstName, linked.LastName); ok {
			return r.finish(ctx, out, name, SourceProfile)
		}
		break
	}

	if name, ok := DeriveFromEmail(out.Email); ok {
		return r.finish(ctx, out, name, SourceEmail)
	}
	return r.finish(ctx, out, DeriveFromIdentifier(out.Role, out.ID), SourceIdentifier)
}

// profileRoles lists the profile tables worth probing. A known student or
// tutor is probed once; an unknown role probes tutor then student.
func (r *Resolver) profileRoles(out ResolvedIdentity) []string {
	if r.profiles == nil {
		return nil
	}
	switch strings.ToLower(out.Role) {
	case user.RoleTutor:
		return []string{user.RoleTutor}
	case user.RoleStudent:
		return []string{user.RoleStudent}
	case user.RoleAdmin:
		return nil
	default:
		return []string{user.RoleTutor, user.RoleStudent}
	}
}

func (r *Resolver) profileUser(ctx context.Context, id uuid.UUID, role string) (user.User, bool) {
	var (
		linked user.User
		err    error
	)
	switch role {
	case user.RoleTutor:
		var p user.TutorProfile
		p, err = r.profiles.GetTutorProfileByUserID(ctx, id)
		linked = p.User
	case user.RoleStudent:
		var p user.StudentProfile
		p, err = r.profiles.GetStudentProfileByUserID(ctx, id)
		linked = p.User
	}
	if err != nil {
		if !errors.Is(err, studysphere_errors.ErrNotFound) {
			r.logger.Ctx(ctx).Warn("profile identity lookup failed",
				zap.String("participant_id", id.String()), zap.String("role", role), zap.Error(err))
		}
		return user.User{}, false
	}
	return linked, true
}

func (r *Resolver) finish(ctx context.Context, out ResolvedIdentity, name string, source Source) ResolvedIdentity {
	out.Name = name
	out.Source = source
	metrics.IdentityResolutions.WithLabelValues(string(source)).Inc()
	out.ProfileImage = r.avatarURL(ctx, out.ProfileImage)
	return out
}

func (r *Resolver) avatarURL(ctx context.Context, ref string) string {
	if ref == "" || r.avatars == nil || isAbsoluteURL(ref) {
		return ref
	}
	signed, err := r.avatars.SignedURL(ctx, ref)
	if err != nil {
		r.logger.Ctx(ctx).Warn("avatar presign failed", zap.String("key", ref), zap.Error(err))
		return ref
	}
	return signed
}

func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
