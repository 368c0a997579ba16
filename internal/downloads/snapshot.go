package downloads

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// SnapshotStore 是跨会话的计数快照层，对应固定键下的 {timestamp, data} 信封。
// 不可用（配额、权限）时写入失败应被调用方当作软失败吞掉。
type SnapshotStore interface {
	// Load 返回上次保存的快照及其时间戳；没有快照时返回 ErrNoSnapshot。
	Load() (Counts, time.Time, error)
	// Save 覆盖保存快照。
	Save(counts Counts) error
	Close() error
}

// ErrNoSnapshot 表示持久层中还没有快照。
var ErrNoSnapshot = errors.New("downloads: no snapshot")

// snapshotKey 是固定的持久化键。
const snapshotKey = "downloads/counts"

// snapshotEnvelope 与快照一同保存写入时间，读取侧据此判断新鲜度。
type snapshotEnvelope struct {
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]*int64 `json:"data"`
}

// NewLevelSnapshotStore 在 path 打开（或创建）LevelDB 快照库。
func NewLevelSnapshotStore(path string) (SnapshotStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &levelSnapshotStore{db: db}, nil
}

type levelSnapshotStore struct {
	db *leveldb.DB
}

func (s *levelSnapshotStore) Load() (Counts, time.Time, error) {
	raw, err := s.db.Get([]byte(snapshotKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, time.Time{}, ErrNoSnapshot
		}
		return nil, time.Time{}, err
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// 信封损坏按缺失处理，下个周期会重建。
		return nil, time.Time{}, ErrNoSnapshot
	}
	return Counts(envelope.Data), envelope.Timestamp, nil
}

func (s *levelSnapshotStore) Save(counts Counts) error {
	envelope := snapshotEnvelope{
		Timestamp: time.Now().UTC(),
		Data:      counts,
	}
	raw, err := json.Marshal(&envelope)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(snapshotKey), raw, nil)
}

func (s *levelSnapshotStore) Close() error {
	return s.db.Close()
}
