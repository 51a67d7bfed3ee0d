package audit

import (
	"encoding/csv"
	"io"
	"time"
)

// WriteActivityCSV emits entries in their given order.
func WriteActivityCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{
		"actorPseudo", "actorRole", "actionType", "targetType", "targetId", "ipAddress", "createdAt",
	}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{
			e.ActorPseudo,
			e.ActorRole,
			e.ActionType,
			e.TargetType,
			e.TargetID,
			e.IPAddress,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteConnectionsCSV emits the connection log.
func WriteConnectionsCSV(w io.Writer, conns []Connection) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"pseudo", "role", "ipAddress", "userAgent", "connectedAt"}); err != nil {
		return err
	}
	for _, c := range conns {
		if err := writer.Write([]string{
			c.Pseudo,
			c.Role,
			c.IPAddress,
			c.UserAgent,
			c.ConnectedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
