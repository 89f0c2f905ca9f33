package instance

import "os"

// GetID returns the process instance identifier or a default value. Dyno
// names win over container hostnames.
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
