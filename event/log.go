package event

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"sync"
)

type EventLogData struct {
	Time    int64  `json:"time"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

// Log is an append-only file of JSON lines, one EventLogData per line.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func OpenLog(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return &Log{path: path, file: file}, nil
}

func (l *Log) Path() string {
	return l.path
}

// Append writes one line. A failed write is reported in the process log;
// the event itself has already been handled.
func (l *Log) Append(data EventLogData) {
	eventJson, err := json.Marshal(data)
	if err != nil {
		log.Printf("event log %s: %v", l.path, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(eventJson, '\n')); err != nil {
		log.Printf("event log %s: %v", l.path, err)
	}
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadLog loads every event of a log file. Lines that do not parse are
// skipped.
func ReadLog(path string) ([]EventLogData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []EventLogData
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		data := EventLogData{}
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			log.Printf("event log %s: skipping line: %v", path, err)
			continue
		}
		events = append(events, data)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
