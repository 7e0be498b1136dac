package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Spool directory layout, relative to the spool root:
//
//	rooms/<room>/in/<id>.json         incoming messages
//	rooms/<room>/reactions/<id>.json  incoming reactions
//	rooms/<room>/done/                processed items
//	rooms/<room>/out.jsonl            messages posted by the agent
const (
	roomsDir     = "rooms"
	inDir        = "in"
	reactionsDir = "reactions"
	doneDir      = "done"
	outFile      = "out.jsonl"
)

// SpoolTransport is a Transport over a directory tree. Other processes drop
// JSON files into a room's in/ or reactions/ directory; the agent's replies
// are appended to out.jsonl. Removing a room directory closes the room.
type SpoolTransport struct {
	root   string
	logger *log.Logger

	mu sync.Mutex // serialises appends to out.jsonl

	watcher *fsnotify.Watcher
	notify  chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// NewSpoolTransport creates a transport rooted at dir. Call Start to enable
// change notifications.
func NewSpoolTransport(dir string, logger *log.Logger) *SpoolTransport {
	if logger == nil {
		logger = log.Default()
	}
	return &SpoolTransport{
		root:   dir,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start creates the spool tree and begins watching it. Call Stop to clean up.
func (s *SpoolTransport) Start() error {
	rooms := filepath.Join(s.root, roomsDir)
	if err := os.MkdirAll(rooms, 0o700); err != nil {
		return fmt.Errorf("chat: create spool: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("chat: create watcher: %w", err)
	}
	if err := w.Add(rooms); err != nil {
		_ = w.Close()
		return fmt.Errorf("chat: watch %s: %w", rooms, err)
	}
	s.watcher = w

	entries, err := os.ReadDir(rooms)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				s.watchRoom(filepath.Join(rooms, e.Name()))
			}
		}
	}

	go s.loop()
	s.logger.Printf("chat: watching spool %s", rooms)
	return nil
}

// Stop shuts down the watcher.
func (s *SpoolTransport) Stop() {
	if s.watcher == nil {
		return
	}
	_ = s.watcher.Close()
	<-s.done
}

// Notify returns the wake-up channel fed by the watcher.
func (s *SpoolTransport) Notify() <-chan struct{} {
	return s.notify
}

func (s *SpoolTransport) loop() {
	defer close(s.done)
	rooms := filepath.Join(s.root, roomsDir)
	for {
		select {
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && filepath.Dir(evt.Name) == rooms {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					s.watchRoom(evt.Name)
				}
			}
			if evt.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.wake()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("chat: spool watcher error: %v", err)
		}
	}
}

// watchRoom adds the incoming directories of a room to the watcher. fsnotify
// does not recurse.
func (s *SpoolTransport) watchRoom(dir string) {
	for _, sub := range []string{inDir, reactionsDir} {
		p := filepath.Join(dir, sub)
		if err := os.MkdirAll(p, 0o700); err != nil {
			s.logger.Printf("chat: create %s: %v", p, err)
			continue
		}
		if err := s.watcher.Add(p); err != nil {
			s.logger.Printf("chat: watch %s: %v", p, err)
		}
	}
}

func (s *SpoolTransport) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ListActiveRooms returns one room per directory under rooms/, by name.
func (s *SpoolTransport) ListActiveRooms(ctx context.Context) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, roomsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: list rooms: %w", err)
	}

	var rooms []Room
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			rooms = append(rooms, Room{ID: e.Name(), Name: e.Name()})
		}
	}
	return rooms, nil
}

// FetchNewMessages reads the room's in/ directory in file name order.
func (s *SpoolTransport) FetchNewMessages(ctx context.Context, roomID string) ([]Message, error) {
	var out []Message
	err := s.readItems(ctx, roomID, inDir, func(id string, data []byte) error {
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.ID = id
		m.RoomID = roomID
		out = append(out, m)
		return nil
	})
	return out, err
}

// FetchNewReactions reads the room's reactions/ directory in file name order.
func (s *SpoolTransport) FetchNewReactions(ctx context.Context, roomID string) ([]Reaction, error) {
	var out []Reaction
	err := s.readItems(ctx, roomID, reactionsDir, func(id string, data []byte) error {
		var r Reaction
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if r.Type == "" {
			return errors.New("missing reaction type")
		}
		r.ID = id
		r.RoomID = roomID
		out = append(out, r)
		return nil
	})
	return out, err
}

// readItems calls decode for every .json file in rooms/<room>/<sub>. Files
// that fail to decode are moved to done/ with an .invalid suffix.
func (s *SpoolTransport) readItems(ctx context.Context, roomID, sub string, decode func(id string, data []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room, err := s.roomDir(roomID)
	if err != nil {
		return err
	}
	dir := filepath.Join(room, sub)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(room); statErr != nil {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("chat: read %s: %w", dir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // consumed concurrently
		}
		id := strings.TrimSuffix(name, ".json")
		if err := decode(id, data); err != nil {
			s.logger.Printf("chat: invalid spool file %s: %v", path, err)
			s.moveToDone(room, path, sub+"-"+name+".invalid")
		}
	}
	return nil
}

// PostMessage appends a JSON line to the room's out.jsonl.
func (s *SpoolTransport) PostMessage(ctx context.Context, roomID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room, err := s.existingRoom(roomID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(Message{
		ID:     uuid.NewString(),
		RoomID: roomID,
		Text:   text,
		SentAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("chat: marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(room, outFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("chat: open outbox: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("chat: write outbox: %w", err)
	}
	return f.Close()
}

// MarkProcessed moves the item's file into done/.
func (s *SpoolTransport) MarkProcessed(ctx context.Context, roomID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room, err := s.existingRoom(roomID)
	if err != nil {
		return err
	}

	var sub string
	switch item.Kind {
	case ItemMessage:
		sub = inDir
	case ItemReaction:
		sub = reactionsDir
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrItemNotFound, item.Kind)
	}
	if item.ID == "" || strings.ContainsAny(item.ID, `/\`) {
		return fmt.Errorf("%w: invalid id %q", ErrItemNotFound, item.ID)
	}

	src := filepath.Join(room, sub, item.ID+".json")
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %s %s", ErrItemNotFound, item.Kind, item.ID)
	}
	return s.moveToDone(room, src, sub+"-"+item.ID+".json")
}

func (s *SpoolTransport) moveToDone(room, src, name string) error {
	dst := filepath.Join(room, doneDir)
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return fmt.Errorf("chat: create %s: %w", dst, err)
	}
	if err := os.Rename(src, filepath.Join(dst, name)); err != nil {
		return fmt.Errorf("chat: move %s: %w", filepath.Base(src), err)
	}
	return nil
}

// Outbox returns the messages posted to the room so far.
func (s *SpoolTransport) Outbox(roomID string) ([]Message, error) {
	room, err := s.roomDir(roomID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(filepath.Join(room, outFile))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: read outbox: %w", err)
	}

	var out []Message
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("chat: decode outbox: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Enqueue drops an incoming message into the room, creating the room if
// needed. The file is written aside and renamed into place so readers never
// see a partial file.
func (s *SpoolTransport) Enqueue(roomID, sender, text string) (Message, error) {
	m := Message{RoomID: roomID, Sender: sender, Text: text, SentAt: s.now().UTC()}
	id, err := s.enqueue(roomID, inDir, m)
	m.ID = id
	return m, err
}

// EnqueueReaction drops an incoming reaction into the room.
func (s *SpoolTransport) EnqueueReaction(roomID, messageID, reactionType string) (Reaction, error) {
	r := Reaction{RoomID: roomID, MessageID: messageID, Type: reactionType, SentAt: s.now().UTC()}
	id, err := s.enqueue(roomID, reactionsDir, r)
	r.ID = id
	return r, err
}

func (s *SpoolTransport) enqueue(roomID, sub string, v interface{}) (string, error) {
	room, err := s.roomDir(roomID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(room, sub)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("chat: create %s: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("chat: marshal: %w", err)
	}

	// Nanosecond prefix keeps directory order equal to arrival order.
	id := fmt.Sprintf("%020d-%s", s.now().UnixNano(), uuid.NewString())
	tmp := filepath.Join(room, "."+id+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("chat: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, id+".json")); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("chat: publish %s: %w", id, err)
	}
	return id, nil
}

func (s *SpoolTransport) roomDir(roomID string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || strings.ContainsAny(roomID, `/\`) {
		return "", fmt.Errorf("%w: invalid room id %q", ErrRoomNotFound, roomID)
	}
	return filepath.Join(s.root, roomsDir, roomID), nil
}

func (s *SpoolTransport) existingRoom(roomID string) (string, error) {
	room, err := s.roomDir(roomID)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(room); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return room, nil
}
