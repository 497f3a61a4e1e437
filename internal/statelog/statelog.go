// Package statelog is the status-transition audit trail: every status
// change the controller assigns is appended here so an operator can
// replay a cert-id's history across restarts. Built on
// github.com/tidwall/buntdb, following the same embedded-key-value
// pattern (auto-increment id counter, JSON-marshaled record values) the
// teacher uses in database/database.go.
package statelog

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

// Entry is one recorded status transition.
type Entry struct {
	ID        int               `json:"id"`
	CertID    string            `json:"cert_id"`
	KeyType   certstate.KeyType `json:"key_type"`
	From      certstate.Status  `json:"from"`
	To        certstate.Status  `json:"to"`
	Timestamp time.Time         `json:"timestamp"`
}

// Log is the append-only transition store.
type Log struct {
	db *buntdb.DB
}

// transitionsByID indexes every recorded entry numerically by its "id"
// field, following the teacher's database/db_session.go
// ("sessionsInit" -> buntdb.IndexJSON("id")) pattern for ordering
// JSON-marshaled records rather than relying on key byte order, which
// sorts "...:10" before "...:2".
const transitionsByID = "transitions_by_id"

// Open opens (creating if absent) the buntdb file at path.
func Open(path string) (*Log, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.CreateIndex(transitionsByID, "transitions:*", buntdb.IndexJSON("id")); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database file.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends a transition for (certID, keyType).
func (l *Log) Record(certID string, kt certstate.KeyType, from, to certstate.Status) error {
	return l.db.Update(func(tx *buntdb.Tx) error {
		id, err := nextID(tx)
		if err != nil {
			return err
		}
		e := Entry{ID: id, CertID: certID, KeyType: kt, From: from, To: to, Timestamp: time.Now()}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key(certID, kt, id), string(data), nil)
		return err
	})
}

// History returns every recorded transition for (certID, keyType), in
// chronological order. It walks the global transitionsByID index (sorted
// numerically on "id", not lexicographically on the key string) and
// keeps only the entries matching (certID, keyType) — still a single
// pass, since that index already visits every transition in the order
// it was recorded.
func (l *Log) History(certID string, kt certstate.KeyType) ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(transitionsByID, func(k, v string) bool {
			var e Entry
			if err := json.Unmarshal([]byte(v), &e); err == nil && e.CertID == certID && e.KeyType == kt {
				entries = append(entries, e)
			}
			return true
		})
	})
	return entries, err
}

func keyPrefix(certID string, kt certstate.KeyType) string {
	return "transitions:" + certID + ":" + string(kt) + ":"
}

func key(certID string, kt certstate.KeyType, id int) string {
	return keyPrefix(certID, kt) + strconv.Itoa(id)
}

func nextID(tx *buntdb.Tx) (int, error) {
	const counterKey = "transitions:0:id"
	id := 1
	if v, err := tx.Get(counterKey); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			id = n
		}
	}
	if _, _, err := tx.Set(counterKey, strconv.Itoa(id+1), nil); err != nil {
		return 0, err
	}
	return id, nil
}
