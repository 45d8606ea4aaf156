// Package boltstore реализует directory.Store поверх встраиваемой БД bbolt.
//
// Раскладка по бакетам:
//   - records  — строки зеркала, ключ: внешний идентификатор;
//   - history  — журнал снимков, ключ: монотонный счётчик бакета;
//   - audit    — журнал аудита, ключ: монотонный счётчик бакета;
//   - bindings — привязки пользователей мессенджера, ключ: id пользователя.
//
// Пакет изменений синхронизации и блокировка применяются внутри одной
// транзакции db.Update: bbolt гарантирует, что либо применится всё, либо
// ничего. Журналы только дописываются, ключи-счётчики сохраняют порядок.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"emby-adminbot/internal/domain/directory"
	"emby-adminbot/internal/infra/storage"
)

var (
	bucketRecords  = []byte("records")
	bucketHistory  = []byte("history")
	bucketAudit    = []byte("audit")
	bucketBindings = []byte("bindings")
)

// openTimeout защищает от вечного ожидания файловой блокировки, когда файл
// БД уже открыт другим процессом.
const openTimeout = 3 * time.Second

// Store — хранилище зеркала каталога на одном файле bbolt.
type Store struct {
	db *bolt.DB
}

// Open открывает (при необходимости создавая) файл БД и все бакеты.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "boltstore: data dir")
	}
	db, err := bolt.Open(path, storage.DefaultFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketHistory, bucketAudit, bucketBindings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "boltstore: init buckets")
	}
	return &Store{db: db}, nil
}

// Close закрывает файл БД.
func (s *Store) Close() error {
	return s.db.Close()
}

// decodeJSON разбирает сохранённые значения с UseNumber: payload записей
// должен перечитываться в том же числовом представлении, в котором пришёл из
// API, иначе каноническое сравнение теряет идемпотентность.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// itob — классический ключ-счётчик bbolt: 8 байт big-endian, сортируется
// в порядке возрастания.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Records возвращает все строки зеркала, включая софт-удалённые.
func (s *Store) Records(context.Context) ([]directory.LocalRecord, error) {
	var out []directory.LocalRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec directory.LocalRecord
			if err := decodeJSON(v, &rec); err != nil {
				return errors.Wrap(err, "decode record")
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Record возвращает строку по внешнему идентификатору, nil если её нет.
func (s *Store) Record(_ context.Context, externalID string) (*directory.LocalRecord, error) {
	var rec *directory.LocalRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(externalID))
		if data == nil {
			return nil
		}
		var r directory.LocalRecord
		if err := decodeJSON(data, &r); err != nil {
			return errors.Wrap(err, "decode record")
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CommitSync применяет пакет прохода синхронизации одной транзакцией.
func (s *Store) CommitSync(_ context.Context, batch directory.SyncBatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		for _, id := range batch.Deletes {
			if err := records.Delete([]byte(id)); err != nil {
				return err
			}
		}
		for _, rec := range batch.Inserts {
			if err := putRecord(records, rec); err != nil {
				return err
			}
		}
		for _, rec := range batch.Updates {
			if err := putRecord(records, rec); err != nil {
				return err
			}
		}
		for _, snap := range batch.Snapshots {
			if err := appendTo(tx.Bucket(bucketHistory), snap); err != nil {
				return err
			}
		}
		for _, entry := range batch.Audit {
			if err := appendTo(tx.Bucket(bucketAudit), entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// CommitBan записывает софт-удаление строки и событие аудита одной
// транзакцией.
func (s *Store) CommitBan(_ context.Context, commit directory.BanCommit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if commit.Record != nil {
			if err := putRecord(tx.Bucket(bucketRecords), *commit.Record); err != nil {
				return err
			}
		}
		return appendTo(tx.Bucket(bucketAudit), commit.Audit)
	})
}

// AppendAudit дописывает одиночное событие аудита.
func (s *Store) AppendAudit(_ context.Context, entry directory.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendTo(tx.Bucket(bucketAudit), entry)
	})
}

// History возвращает снимки записи в порядке добавления.
func (s *Store) History(_ context.Context, externalID string) ([]directory.HistorySnapshot, error) {
	var out []directory.HistorySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(_, v []byte) error {
			var snap directory.HistorySnapshot
			if err := decodeJSON(v, &snap); err != nil {
				return errors.Wrap(err, "decode snapshot")
			}
			if externalID == "" || snap.ExternalID == externalID {
				out = append(out, snap)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Audit возвращает события аудита в порядке добавления. Пустой targetID и
// нулевые границы времени отключают соответствующий фильтр.
func (s *Store) Audit(_ context.Context, targetID string, from, to time.Time) ([]directory.AuditEntry, error) {
	var out []directory.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(_, v []byte) error {
			var entry directory.AuditEntry
			if err := decodeJSON(v, &entry); err != nil {
				return errors.Wrap(err, "decode audit entry")
			}
			if targetID != "" && entry.TargetID != targetID {
				return nil
			}
			if !from.IsZero() && entry.At.Before(from) {
				return nil
			}
			if !to.IsZero() && entry.At.After(to) {
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Binding возвращает внешний идентификатор, привязанный к пользователю, либо
// пустую строку.
func (s *Store) Binding(_ context.Context, userID int64) (string, error) {
	var externalID string
	err := s.db.View(func(tx *bolt.Tx) error {
		externalID = string(tx.Bucket(bucketBindings).Get(itob(uint64(userID))))
		return nil
	})
	return externalID, err
}

// Bind сохраняет привязку пользователя мессенджера к внешней записи.
func (s *Store) Bind(_ context.Context, userID int64, externalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).Put(itob(uint64(userID)), []byte(externalID))
	})
}

func putRecord(b *bolt.Bucket, rec directory.LocalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	return b.Put([]byte(rec.ExternalID), data)
}

func appendTo(b *bolt.Bucket, v any) error {
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode ledger entry")
	}
	return b.Put(itob(seq), data)
}
