package lockmgr

import (
	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LoggerDump)

// generateOwnerID creates a new unique owner ID (a random version 4 UUID in its binary form)
func generateOwnerID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
