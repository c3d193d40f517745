package handlers

import (
	"io/fs"
	"net/http"
)

// filesOnly hides directories so the upload folder cannot be listed.
type filesOnly struct {
	root http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// PhotoFiles serves stored photos from dir. Directory requests get 404.
func PhotoFiles(dir string) http.Handler {
	return http.FileServer(filesOnly{root: http.Dir(dir)})
}
