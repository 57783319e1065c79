package state

import (
	"fmt"
	"time"

	"tradefloor/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketBadges   = []byte("badges")
	bucketChannels = []byte("channels")
	bucketLayout   = []byte("layout")
	bucketProgress = []byte("progress")
	bucketPushSubs = []byte("push_subscriptions")
)

// BboltState is the session-scoped client state store. Nothing in it
// is authoritative: server-fetched data always supersedes it on
// reconciliation. It exists for instant first paint and for badge and
// layout continuity across restarts.
type BboltState struct {
	db *bbolt.DB
}

func NewBboltState(path string) (*BboltState, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketBadges, bucketChannels, bucketLayout, bucketProgress, bucketPushSubs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltState{db: db}, nil
}

func (s *BboltState) Close() error {
	return s.db.Close()
}

// UpsertBadge persists one channel's unread/mention counters.
func (s *BboltState) UpsertBadge(channelID string, badge models.Badge) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBadges)
		dbBadge := &DBBadge{
			ChannelID: channelID,
			Unread:    badge.Unread,
			Mentions:  badge.Mentions,
		}
		data, err := dbBadge.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbBadge.Key(), data)
	})
}

// ResetBadge zeroes the counters for a channel; called when the
// channel becomes the active selection.
func (s *BboltState) ResetBadge(channelID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBadges)
		return b.Delete([]byte(channelID))
	})
}

// ListBadges returns all persisted badge counters keyed by channel id.
func (s *BboltState) ListBadges() (map[string]models.Badge, error) {
	badges := make(map[string]models.Badge)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBadges)
		return b.ForEach(func(k, v []byte) error {
			var dbBadge DBBadge
			if err := dbBadge.UnmarshalBinary(v); err != nil {
				return err
			}
			badges[dbBadge.ChannelID] = models.Badge{
				Unread:   dbBadge.Unread,
				Mentions: dbBadge.Mentions,
			}
			return nil
		})
	})
	return badges, err
}

// CacheChannels replaces the cached channel list. Capability flags are
// deliberately not stored: they are derived per viewer state and must
// be recomputed on load.
func (s *BboltState) CacheChannels(channels []models.Channel) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketChannels); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketChannels)
		if err != nil {
			return err
		}

		for i, ch := range channels {
			dbChannel := DBChannel{
				ID:          ch.ID,
				Name:        ch.Name,
				DisplayName: ch.DisplayName,
				Category:    ch.Category,
				AccessLevel: string(ch.AccessLevel),
				Locked:      ch.Locked,
				Position:    i,
			}
			data, err := dbChannel.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(dbChannel.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// CachedChannels returns the cached channel list in its original
// order, for instant first paint before the server responds.
func (s *BboltState) CachedChannels() ([]models.Channel, error) {
	var dbChannels []DBChannel
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbChannel DBChannel
			if err := dbChannel.UnmarshalBinary(v); err != nil {
				return err
			}
			dbChannels = append(dbChannels, dbChannel)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	channels := make([]models.Channel, len(dbChannels))
	for _, dbChannel := range dbChannels {
		if dbChannel.Position < 0 || dbChannel.Position >= len(channels) {
			return nil, fmt.Errorf("corrupt channel cache: position %d out of range", dbChannel.Position)
		}
		channels[dbChannel.Position] = models.Channel{
			ID:          dbChannel.ID,
			Name:        dbChannel.Name,
			DisplayName: dbChannel.DisplayName,
			Category:    dbChannel.Category,
			AccessLevel: models.Plan(dbChannel.AccessLevel),
			Locked:      dbChannel.Locked,
		}
	}
	return channels, nil
}

func (s *BboltState) SaveLayout(layout DBLayout) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLayout)
		data, err := layout.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(layout.Key(), data)
	})
}

func (s *BboltState) LoadLayout() (DBLayout, error) {
	var layout DBLayout
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLayout)
		data := b.Get(layout.Key())
		if data == nil {
			return nil
		}
		return layout.UnmarshalBinary(data)
	})
	return layout, err
}

func (s *BboltState) SaveProgress(progress DBProgress) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		data, err := progress.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(progress.Key(), data)
	})
}

func (s *BboltState) LoadProgress() (DBProgress, error) {
	var progress DBProgress
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		data := b.Get(progress.Key())
		if data == nil {
			return nil
		}
		return progress.UnmarshalBinary(data)
	})
	return progress, err
}

func (s *BboltState) UpsertPushSubscription(sub DBPushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		data, err := sub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(sub.Key(), data)
	})
}

func (s *BboltState) DeletePushSubscription(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		return b.Delete([]byte(endpoint))
	})
}

func (s *BboltState) ListPushSubscriptions() ([]DBPushSubscription, error) {
	var subs []DBPushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		return b.ForEach(func(k, v []byte) error {
			var sub DBPushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}
