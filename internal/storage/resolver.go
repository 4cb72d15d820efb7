package storage

import (
	"context"
	"errors"
	"fmt"
	"pairchat/backend/internal/models"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// SpaceResolver resolves partners from the space_members table.
// A user's primary space is their oldest membership row; the partner is the
// other member of that space.
type SpaceResolver struct {
	DB *gorm.DB
}

func NewSpaceResolver(db *gorm.DB) *SpaceResolver {
	return &SpaceResolver{DB: db}
}

func (r *SpaceResolver) ChannelOf(ctx context.Context, userID int64) (int64, bool, error) {
	var member models.SpaceMember
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve space of %d: %w", userID, err)
	}
	return member.SpaceID, true, nil
}

func (r *SpaceResolver) PartnerOf(ctx context.Context, userID int64) (int64, bool, error) {
	spaceID, ok, err := r.ChannelOf(ctx, userID)
	if err != nil || !ok {
		return 0, false, err
	}

	var partner models.SpaceMember
	err = r.DB.WithContext(ctx).
		Where("space_id = ? AND user_id <> ?", spaceID, userID).
		Order("id asc").
		First(&partner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve partner of %d: %w", userID, err)
	}
	return partner.UserID, true, nil
}

// Pair adds both users to spaceID. Used by the admin CLI.
func (r *SpaceResolver) Pair(ctx context.Context, spaceID, userA, userB int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, userID := range []int64{userA, userB} {
			role := "MEMBER"
			if i == 0 {
				role = "OWNER"
			}
			member := models.SpaceMember{SpaceID: spaceID, UserID: userID, Role: role}
			if err := tx.Where(models.SpaceMember{SpaceID: spaceID, UserID: userID}).
				FirstOrCreate(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// StaticPair is one configured couple sharing a space.
type StaticPair struct {
	SpaceID int64
	UserA   int64
	UserB   int64
}

type staticEntry struct {
	spaceID   int64
	partnerID int64
}

// StaticResolver serves pairs fixed at startup. It is read-only after construction.
type StaticResolver struct {
	byUser map[int64]staticEntry
}

func NewStaticResolver(pairs ...StaticPair) *StaticResolver {
	r := &StaticResolver{byUser: make(map[int64]staticEntry, len(pairs)*2)}
	for _, p := range pairs {
		r.byUser[p.UserA] = staticEntry{spaceID: p.SpaceID, partnerID: p.UserB}
		r.byUser[p.UserB] = staticEntry{spaceID: p.SpaceID, partnerID: p.UserA}
	}
	return r
}

// ParseStaticPairs reads "space:userA:userB" entries separated by commas.
func ParseStaticPairs(s string) ([]StaticPair, error) {
	var pairs []StaticPair
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, part)
		}
		var nums [3]int64
		for i, f := range fields {
			n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPair, part)
			}
			nums[i] = n
		}
		if nums[1] == nums[2] {
			return nil, fmt.Errorf("%w: %q pairs a user with itself", ErrInvalidPair, part)
		}
		pairs = append(pairs, StaticPair{SpaceID: nums[0], UserA: nums[1], UserB: nums[2]})
	}
	return pairs, nil
}

func (r *StaticResolver) PartnerOf(_ context.Context, userID int64) (int64, bool, error) {
	e, ok := r.byUser[userID]
	return e.partnerID, ok, nil
}

func (r *StaticResolver) ChannelOf(_ context.Context, userID int64) (int64, bool, error) {
	e, ok := r.byUser[userID]
	return e.spaceID, ok, nil
}
