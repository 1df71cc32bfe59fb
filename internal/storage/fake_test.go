package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// scriptedStore serves a fixed sequence of listing pages chained by tokens
// "t1", "t2", ... and the object bytes in objects.
type scriptedStore struct {
	pages      [][]ObjectKey
	objects    map[ObjectKey][]byte
	failOn     map[ObjectKey]error
	listErrAt  int
	listErr    error
	onDownload func(key ObjectKey, dest LocalPath)

	tokens    []*string
	downloads []ObjectKey
}

func newScriptedStore(pages ...[]ObjectKey) *scriptedStore {
	return &scriptedStore{
		pages:     pages,
		objects:   map[ObjectKey][]byte{},
		failOn:    map[ObjectKey]error{},
		listErrAt: -1,
	}
}

func (s *scriptedStore) withContent(keys ...ObjectKey) *scriptedStore {
	for _, k := range keys {
		s.objects[k] = []byte("content of " + string(k))
	}
	return s
}

func (s *scriptedStore) ListPage(_ context.Context, _, _ string, token *string) (Page, error) {
	call := len(s.tokens)
	s.tokens = append(s.tokens, token)
	if call == s.listErrAt {
		return Page{}, s.listErr
	}
	if call == 0 && token != nil {
		return Page{}, fmt.Errorf("first request carried token %q", *token)
	}
	if call > 0 && (token == nil || *token != fmt.Sprintf("t%d", call)) {
		return Page{}, fmt.Errorf("unexpected token on call %d", call)
	}
	if call >= len(s.pages) {
		return Page{}, errors.New("no more scripted pages")
	}
	page := Page{Keys: s.pages[call]}
	if call < len(s.pages)-1 {
		next := fmt.Sprintf("t%d", call+1)
		page.NextToken = &next
	}
	return page, nil
}

func (s *scriptedStore) Download(_ context.Context, _ string, key ObjectKey, dest LocalPath) error {
	s.downloads = append(s.downloads, key)
	if s.onDownload != nil {
		s.onDownload(key, dest)
	}
	if err := s.failOn[key]; err != nil {
		return err
	}
	data, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	return os.WriteFile(dest.String(), data, 0o644)
}

func (s *scriptedStore) Upload(context.Context, string, ObjectKey, io.Reader, int64) error {
	return errors.New("read-only store")
}

func (s *scriptedStore) Delete(context.Context, string, []ObjectKey) error {
	return errors.New("read-only store")
}

func (s *scriptedStore) Close() error { return nil }
