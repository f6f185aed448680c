package storage

import "strconv"

// Redis key layout of the fast tier. Every key is derived from the numeric
// channel id, never from the room token.

func indexKey(channelID int64) string {
	return "channel:" + strconv.FormatInt(channelID, 10)
}

func detailKey(channelID int64, messageID string) string {
	return "message:" + strconv.FormatInt(channelID, 10) + ":" + messageID
}

func readPointKey(channelID int64) string {
	return "readPoint:" + strconv.FormatInt(channelID, 10)
}

func sessionKey(connID string) string {
	return "session:" + connID
}

func sessionIndexKey(userID string) string {
	return "sessions:u:" + userID
}
