// Package cachetest is a compliance suite for cache.Cache implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/supportdesk/internal/port/cache"
)

// Run executes the suite against c.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "compliance.key", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "compliance.key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "compliance-val" {
			t.Fatalf("Get = %q, %v", val, found)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "compliance.missing")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "compliance.del", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "compliance.del"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, "compliance.del"); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "compliance.never"); err != nil {
			t.Fatalf("Delete of nonexistent key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "compliance.ow", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "compliance.ow", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "compliance.ow")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("Get after overwrite = %q, %v", val, found)
		}
	})
}
