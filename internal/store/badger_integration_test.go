// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/emberlaunch/ember/internal/store"
)

var _ = Describe("on-disk Store", func() {
	var (
		dir string
		ctx context.Context
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		ctx = context.Background()
	})

	It("keeps records across reopen", func() {
		s, err := store.Open(store.Options{Path: dir})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Put(ctx, store.PrefixInstance+"01J", record{Name: "survival-world", Count: 2})).To(Succeed())
		Expect(s.Put(ctx, store.PrefixMeta+"selected-account", "f00d")).To(Succeed())
		Expect(s.Close()).To(Succeed())

		reopened, err := store.Open(store.Options{Path: dir})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(reopened.Close)

		var got record
		Expect(reopened.Get(ctx, store.PrefixInstance+"01J", &got)).To(Succeed())
		Expect(got).To(Equal(record{Name: "survival-world", Count: 2}))

		var selected string
		Expect(reopened.Get(ctx, store.PrefixMeta+"selected-account", &selected)).To(Succeed())
		Expect(selected).To(Equal("f00d"))
	})

	It("stops the value log collector on close", func() {
		s, err := store.Open(store.Options{Path: dir, GCInterval: 10 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Put(ctx, "meta/x", "y")).To(Succeed())
		time.Sleep(30 * time.Millisecond)
		Expect(s.Close()).To(Succeed())
	})

	It("rejects a second writer on the same directory", func() {
		s, err := store.Open(store.Options{Path: dir})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		_, err = store.Open(store.Options{Path: dir})
		Expect(err).To(HaveOccurred())
	})
})
