package main

import (
	"time"

	"schedd/internal/handler"
	"schedd/internal/handler/blogpost"
	"schedd/internal/handler/reminder"
	"schedd/internal/storage"
)

// manifest lists the handlers compiled into the binary. Config can only
// toggle them.
func manifest(store storage.Store, now func() time.Time) handler.Manifest {
	return handler.Manifest{
		{Handler: blogpost.New(store, now), Enabled: true},
		{Handler: reminder.New(), Enabled: true},
	}
}
