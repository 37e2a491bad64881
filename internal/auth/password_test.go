package auth_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/auth"
)

func policyMessages(appErr *internal.AppError) []string {
	if appErr == nil {
		return nil
	}
	details, ok := appErr.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue())
	out := make([]string, 0, len(details.Errors))
	for _, e := range details.Errors {
		Expect(e.Code).To(Equal(string(internal.ErrCodePasswordPolicy)))
		out = append(out, e.Message)
	}
	return out
}

var _ = Describe("PasswordPolicy", func() {
	policy := auth.DefaultPasswordPolicy()

	DescribeTable("accepting strong passwords",
		func(password, username string) {
			Expect(policy.Validate(password, username)).To(BeNil())
		},
		Entry("exactly the minimum length", "Kd8#vQx3!mTz", ""),
		Entry("longer mixed password", "Wp6$hNc9@rYb2", "srep"),
		Entry("non-ascii letters count as characters", "Kd8#vQx3!mTé", ""),
	)

	DescribeTable("rejecting weak passwords",
		func(password, username, violation string) {
			appErr := policy.Validate(password, username)
			Expect(appErr).NotTo(BeNil())
			Expect(appErr.Code).To(Equal(internal.ErrCodePasswordPolicy))
			Expect(policyMessages(appErr)).To(ContainElement(ContainSubstring(violation)))
		},
		Entry("one character short", "Kd8#vQx3!mT", "", "at least 12 characters"),
		Entry("no uppercase", "kd8#vqx3!mtz", "", "uppercase"),
		Entry("no lowercase", "KD8#VQX3!MTZ", "", "lowercase"),
		Entry("no digit", "Kdq#vQxr!mTz", "", "digit"),
		Entry("no symbol", "Kd8rvQx3wmTz", "", "symbol"),
		Entry("spaces are not symbols", "Kd8 vQx3 mTz", "", "symbol"),
		Entry("dictionary word", "Xq9#Medical7z", "", "common word"),
		Entry("dictionary word behind leetspeak", "P@ssw0rd2025!x", "", "common word"),
		Entry("ascending run", "Kd8#vQ1234mTz", "", "sequential or repeated"),
		Entry("descending run", "Kd8#vQdcbamTz", "", "sequential or repeated"),
		Entry("repeated run", "Kd8#vQaaaamTz", "", "sequential or repeated"),
		Entry("contains the username", "Mrivera#93Xq!", "mrivera", "username"),
		Entry("contains the username in leetspeak", "Mr1vera#93Xq!", "mrivera", "username"),
		Entry("past the bcrypt input limit", strings.Repeat("Kd8#vQx3!mTz", 7), "", "72 bytes"),
	)

	It("reports only the rule that a space-only symbol breaks", func() {
		Expect(policyMessages(policy.Validate("Kd8 vQx3 mTz", ""))).To(ConsistOf("password must contain a symbol"))
	})

	It("reports every broken rule at once", func() {
		Expect(policyMessages(policy.Validate("abc", ""))).To(HaveLen(4))
	})

	It("ignores usernames too short to match meaningfully", func() {
		Expect(policy.Validate("Kd8#vQx3!mTz", "kd")).To(BeNil())
	})
})

var _ = Describe("Hasher", func() {
	hasher := auth.NewHasher(bcrypt.MinCost)

	It("verifies the plaintext it hashed and nothing else", func() {
		hash, err := hasher.Hash("Kd8#vQx3!mTz")
		Expect(err).NotTo(HaveOccurred())

		Expect(hasher.Verify(hash, "Kd8#vQx3!mTz")).To(BeTrue())
		for _, other := range []string{"Kd8#vQx3!mTZ", "Kd8#vQx3!mT", "", "Kd8#vQx3!mTz "} {
			Expect(hasher.Verify(hash, other)).To(BeFalse(), other)
		}
	})

	It("salts every hash", func() {
		first, err := hasher.Hash("Kd8#vQx3!mTz")
		Expect(err).NotTo(HaveOccurred())
		second, err := hasher.Hash("Kd8#vQx3!mTz")
		Expect(err).NotTo(HaveOccurred())

		Expect(first).NotTo(Equal(second))
		Expect(hasher.Verify(second, "Kd8#vQx3!mTz")).To(BeTrue())
	})

	It("rejects a malformed stored hash", func() {
		Expect(hasher.Verify("not-a-bcrypt-hash", "Kd8#vQx3!mTz")).To(BeFalse())
	})
})
