package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

const serviceName = "gitforge-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log emits a JSON log line stamped with the service name and, unless the
// entry carries its own, the given level.
func Log(level string, entry map[string]any) error {
	line := make(map[string]any, len(entry)+2)
	for k, v := range entry {
		line[k] = v
	}
	if _, ok := line["level"]; !ok {
		line["level"] = level
	}
	line["service"] = serviceName
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	Logger().Println(string(data))
	return nil
}

// LogRequest emits an info-level JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	if err := Log("info", entry); err != nil {
		Logger().Println(`{"level":"error","service":"` + serviceName + `","msg":"log marshal failed"}`)
	}
}
