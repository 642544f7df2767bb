package storage

import "fmt"

// keyVersion prefixes every key so a format change can be rolled out by
// bumping it instead of migrating old entries.
const keyVersion = "v1"

const (
	KeyUserID                     = "user_id"
	KeyUserEmail                  = "user_email"
	KeyMandatoryQuestionsComplete = "mandatory_questions_complete"
	answeredQuestionsPrefix       = "answered_questions_"
	celebratedMatchesPrefix       = "celebrated_matches_"
	sessionSegment                = "session"
)

func AnsweredQuestionsKey(userID string) string { return answeredQuestionsPrefix + userID }

func CelebratedMatchesKey(userID string) string { return celebratedMatchesPrefix + userID }

func clientPrefix(clientID string) string {
	return fmt.Sprintf("%s:%s:", keyVersion, clientID)
}

func sessionPrefix(clientID string) string {
	return clientPrefix(clientID) + sessionSegment + ":"
}
