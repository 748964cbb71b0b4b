package instance

import "os"

// GetID returns the process instance identifier used in log fields.
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
