package directory

import "github.com/go-faster/errors"

// ErrNotConfigured возвращается источником, когда доступ к Emby не настроен
// (нет базового URL или API-ключа). Операции переводят его в короткий
// информативный итог, не пытаясь ходить в сеть.
var ErrNotConfigured = errors.New("emby api is not configured")

// RemoteErrorKind разделяет сбои удалённого каталога на две категории:
// временные (сеть, 5xx, 429) и отказ по существу запроса (4xx).
type RemoteErrorKind int

const (
	// RemoteUnavailable — временный сбой, имеет смысл повторить попытку.
	RemoteUnavailable RemoteErrorKind = iota + 1
	// RemoteRejected — сервер ответил отказом, повтор бесполезен.
	RemoteRejected
)

// RemoteError описывает сбой вызова удалённого каталога.
type RemoteError struct {
	Kind    RemoteErrorKind
	Status  int // HTTP-статус, 0 если ответа не было
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return errors.Errorf("remote directory: status %d: %s", e.Status, e.Message).Error()
	case e.Status != 0:
		return errors.Errorf("remote directory: status %d", e.Status).Error()
	case e.Err != nil:
		return "remote directory: " + e.Err.Error()
	default:
		return "remote directory: " + e.Message
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRemoteUnavailable сообщает, вызван ли сбой временной недоступностью.
func IsRemoteUnavailable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == RemoteUnavailable
}

// IsRemoteRejected сообщает, отклонил ли сервер запрос по существу.
func IsRemoteRejected(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == RemoteRejected
}

// IsRemoteNotFound отличает отказ "записи нет" (HTTP 404) от прочих отказов.
func IsRemoteNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == RemoteRejected && re.Status == 404
}
