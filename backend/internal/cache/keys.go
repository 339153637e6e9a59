package cache

import "fmt"

// Key layout, both keys of a document share one hash slot:
// - roomKey(docID):  online users, ZSet<userId, expireAtUnix>
// - connsKey(docID): live connections, Hash<connId -> userId>
const (
	keyRoomFmt  = "presence:room:{docID:%s}"
	keyConnsFmt = "presence:room:conns:{docID:%s}"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func connsKey(docID string) string { return fmt.Sprintf(keyConnsFmt, docID) }
