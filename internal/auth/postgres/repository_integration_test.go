// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
)

func newAccount(name string) *auth.Account {
	a, err := auth.NewAccount(name, name+"@example.com", "hash")
	Expect(err).NotTo(HaveOccurred())
	a.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	a.UpdatedAt = a.CreatedAt
	return a
}

var _ = Describe("Repositories", func() {
	var (
		ctx      context.Context
		accounts *postgres.AccountRepository
		roles    *postgres.RoleRepository
		admin    *auth.Role
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()
		accounts = postgres.NewAccountRepository(testPool)
		roles = postgres.NewRoleRepository(testPool)

		var err error
		admin, err = auth.NewRole("Admin", "Administrator")
		Expect(err).NotTo(HaveOccurred())
		admin.Claims = []auth.Claim{{Type: "scope", Value: "billing"}}
		Expect(roles.CreateRole(ctx, admin)).To(Succeed())
	})

	Describe("AccountRepository", func() {
		It("round-trips an account with roles, logins and profile", func() {
			a := newAccount("ann")
			a.DisplayName = "Ann"
			a.Address = &auth.Address{City: "Oslo"}
			a.Claims = []auth.Claim{{Type: "tenant", Value: "acme"}}
			a.Roles = []string{"Admin"}
			a.Logins = []auth.ExternalIdentity{{Provider: "Google", ProviderKey: "g-1", DisplayName: "Ann"}}
			end := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
			a.LockoutEnd = &end
			Expect(accounts.Create(ctx, a)).To(Succeed())

			got, err := accounts.FindByNormalizedEmail(ctx, "ANN@EXAMPLE.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
			Expect(got.Roles).To(Equal([]string{"Admin"}))
			Expect(got.Logins).To(Equal(a.Logins))
			Expect(got.Claims).To(Equal(a.Claims))
			Expect(got.Address.City).To(Equal("Oslo"))
			Expect(got.LockoutEnd.Equal(end)).To(BeTrue())

			byLogin, err := accounts.FindByLogin(ctx, "Google", "g-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(byLogin.ID).To(Equal(a.ID))
		})

		It("rejects duplicate login names, emails and external logins", func() {
			a := newAccount("ann")
			a.Logins = []auth.ExternalIdentity{{Provider: "Google", ProviderKey: "g-1"}}
			Expect(accounts.Create(ctx, a)).To(Succeed())

			sameName := newAccount("ANN")
			sameName.Email, sameName.NormalizedEmail = "other@example.com", "OTHER@EXAMPLE.COM"
			Expect(accounts.Create(ctx, sameName)).To(MatchError(auth.ErrDuplicate))

			sameLogin := newAccount("bob")
			sameLogin.Logins = a.Logins
			Expect(accounts.Create(ctx, sameLogin)).To(MatchError(auth.ErrDuplicate))

			_, err := accounts.FindByNormalizedUserName(ctx, "BOB")
			Expect(err).To(MatchError(auth.ErrNotFound), "failed create leaves nothing behind")
		})

		It("lets exactly one of two writers with the same stamp win", func() {
			a := newAccount("ann")
			Expect(accounts.Create(ctx, a)).To(Succeed())
			stamp := a.ConcurrencyStamp

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					copyA, err := accounts.FindByID(ctx, a.ID)
					Expect(err).NotTo(HaveOccurred())
					copyA.AccessFailedCount = i + 1
					errs[i] = accounts.Update(ctx, copyA, stamp)
				}(i)
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
				} else {
					Expect(err).To(MatchError(auth.ErrConflict))
				}
			}
			Expect(wins).To(Equal(1))
		})

		It("replaces memberships on update", func() {
			a := newAccount("ann")
			a.Roles = []string{"Admin"}
			Expect(accounts.Create(ctx, a)).To(Succeed())

			a.Roles = nil
			a.Logins = []auth.ExternalIdentity{{Provider: "Google", ProviderKey: "g-9"}}
			Expect(accounts.Update(ctx, a, a.ConcurrencyStamp)).To(Succeed())

			got, err := accounts.FindByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Roles).To(BeEmpty())
			Expect(got.Logins).To(HaveLen(1))
			Expect(got.ConcurrencyStamp).To(Equal(a.ConcurrencyStamp))
		})

		It("reports a missing account on update", func() {
			Expect(accounts.Update(ctx, newAccount("ghost"), "x")).To(MatchError(auth.ErrNotFound))
		})

		It("deletes an account and frees its login", func() {
			a := newAccount("dora")
			a.Roles = []string{"Admin"}
			a.AddLogin(auth.ExternalIdentity{Provider: "Google", ProviderKey: "g-9"})
			Expect(accounts.Create(ctx, a)).To(Succeed())

			Expect(accounts.Delete(ctx, a.ID)).To(Succeed())
			_, err := accounts.FindByLogin(ctx, "Google", "g-9")
			Expect(err).To(MatchError(auth.ErrNotFound))
			Expect(accounts.Delete(ctx, a.ID)).To(MatchError(auth.ErrNotFound))

			again := newAccount("dora")
			again.AddLogin(auth.ExternalIdentity{Provider: "Google", ProviderKey: "g-9"})
			Expect(accounts.Create(ctx, again)).To(Succeed())
		})
	})

	Describe("RoleRepository", func() {
		It("finds, lists and updates roles", func() {
			got, err := roles.FindRoleByName(ctx, "ADMIN")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Claims).To(Equal(admin.Claims))

			stamp := got.ConcurrencyStamp
			got.Claims = append(got.Claims, auth.Claim{Type: "scope", Value: "audit"})
			Expect(roles.UpdateRole(ctx, got, stamp)).To(Succeed())
			Expect(roles.UpdateRole(ctx, got, stamp)).To(MatchError(auth.ErrConflict))

			list, err := roles.ListRoles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Claims).To(HaveLen(2))
		})

		It("drops memberships with the role", func() {
			a := newAccount("ann")
			a.Roles = []string{"Admin"}
			Expect(accounts.Create(ctx, a)).To(Succeed())

			Expect(roles.DeleteRole(ctx, admin.ID)).To(Succeed())
			got, err := accounts.FindByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Roles).To(BeEmpty())

			Expect(roles.DeleteRole(ctx, admin.ID)).To(MatchError(auth.ErrNotFound))
			_, err = roles.FindRoleByID(ctx, ulid.Make())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})
})
