package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/repository"
)

// wrap annotates a query error with the operation name. Connection loss and
// timeouts are classified transient so callers know a retry is safe.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ repository.ChannelRepository    = (*ChannelStore)(nil)
	_ repository.MembershipRepository = (*MembershipStore)(nil)
	_ repository.MessageRepository    = (*MessageStore)(nil)
	_ repository.UserRepository       = (*UserStore)(nil)
	_ repository.CallRepository       = (*CallStore)(nil)
)
