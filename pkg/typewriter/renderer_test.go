package typewriter_test

import (
	"strings"
	"sync"
	"time"

	"github.com/killallgit/flowchat/pkg/testutil"
	"github.com/killallgit/flowchat/pkg/typewriter"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Renderer", func() {
	var (
		clock    *testutil.FakeClock
		cfg      typewriter.Config
		renderer *typewriter.Renderer
		mu       sync.Mutex
		history  []string
	)

	BeforeEach(func() {
		clock = testutil.NewFakeClock()
		cfg = typewriter.DefaultConfig()
		history = nil
	})

	JustBeforeEach(func() {
		renderer = typewriter.NewRenderer(cfg,
			typewriter.WithClock(clock),
			typewriter.WithJitter(func() float64 { return 0 }),
			typewriter.WithOnChange(func(s string) {
				mu.Lock()
				history = append(history, s)
				mu.Unlock()
			}),
		)
	})

	AfterEach(func() {
		renderer.Close()
	})

	It("should start idle", func() {
		Expect(renderer.State()).To(Equal(typewriter.StateIdle))
		Expect(renderer.Displayed()).To(BeEmpty())
	})

	It("should wait for the initial delay before the first rune", func() {
		renderer.Update("Hi", false)
		Expect(renderer.State()).To(Equal(typewriter.StateDelaying))

		clock.Advance(cfg.InitialDelay - time.Millisecond)
		Expect(renderer.Displayed()).To(BeEmpty())

		clock.Advance(time.Millisecond)
		Expect(renderer.Displayed()).To(Equal("H"))
		Expect(renderer.State()).To(Equal(typewriter.StateRevealing))
	})

	It("should reveal the whole text with a non-decreasing prefix", func() {
		text := "Hello, world. How are you?"
		renderer.Update(text, true)
		clock.FireAll(1000)

		Expect(renderer.Displayed()).To(Equal(text))
		Expect(renderer.State()).To(Equal(typewriter.StateDone))
		Expect(renderer.Finished()).To(BeTrue())
		Expect(clock.Pending()).To(BeZero())

		for i := 1; i < len(history); i++ {
			Expect(len(history[i])).To(BeNumerically(">=", len(history[i-1])))
			Expect(strings.HasPrefix(history[i], history[i-1])).To(BeTrue())
		}
		Expect(history).To(HaveLen(len(text)))
	})

	It("should pause longer after punctuation", func() {
		renderer.Update("a.b", false)
		clock.Advance(cfg.InitialDelay)
		Expect(renderer.Displayed()).To(Equal("a"))

		clock.Advance(cfg.MinDelay)
		Expect(renderer.Displayed()).To(Equal("a."))

		clock.Advance(cfg.PunctuationDelay - time.Millisecond)
		Expect(renderer.Displayed()).To(Equal("a."))
		clock.Advance(time.Millisecond)
		Expect(renderer.Displayed()).To(Equal("a.b"))
	})

	It("should keep the cursor when the text grows", func() {
		renderer.Update("Hi", false)
		clock.FireAll(100)
		Expect(renderer.Displayed()).To(Equal("Hi"))
		Expect(renderer.State()).To(Equal(typewriter.StateDone))
		Expect(renderer.Finished()).To(BeFalse())

		renderer.Update("Hi there", false)
		Expect(renderer.Cursor()).To(Equal(2))
		Expect(renderer.State()).To(Equal(typewriter.StateRevealing))

		clock.FireAll(100)
		Expect(renderer.Displayed()).To(Equal("Hi there"))
	})

	It("should not restart the initial delay when text grows mid reveal", func() {
		renderer.Update("abc", false)
		clock.Advance(cfg.InitialDelay)
		renderer.Update("abcdef", false)
		Expect(renderer.Cursor()).To(Equal(1))
		Expect(clock.Pending()).To(Equal(1))
	})

	It("should reset for a different message", func() {
		renderer.Update("first answer", false)
		clock.FireAll(5)
		Expect(renderer.Cursor()).To(BeNumerically(">", 0))

		renderer.Update("second", false)
		Expect(renderer.Cursor()).To(BeZero())
		Expect(renderer.State()).To(Equal(typewriter.StateDelaying))
		Expect(clock.Pending()).To(Equal(1))
	})

	It("should reset on empty text regardless of state", func() {
		renderer.Update("abc", true)
		renderer.Complete()
		renderer.Update("", false)
		Expect(renderer.Cursor()).To(BeZero())
		Expect(renderer.Displayed()).To(BeEmpty())
		Expect(renderer.State()).To(Equal(typewriter.StateIdle))
		Expect(clock.Pending()).To(BeZero())
	})

	It("should complete immediately and idempotently", func() {
		renderer.Update("complete me", false)
		renderer.Complete()
		Expect(renderer.Displayed()).To(Equal("complete me"))
		Expect(clock.Pending()).To(BeZero())

		calls := len(history)
		renderer.Complete()
		Expect(renderer.Displayed()).To(Equal("complete me"))
		Expect(history).To(HaveLen(calls))
	})

	It("should ignore a stale tick after complete", func() {
		renderer.Update("abc", false)
		renderer.Complete()
		renderer.Update("abcdef", false)
		clock.Advance(cfg.InitialDelay)
		Expect(renderer.Cursor()).To(BeNumerically(">=", 3))
	})

	It("should pause and resume without moving the cursor", func() {
		renderer.Update("abcdef", false)
		clock.Advance(cfg.InitialDelay)
		Expect(renderer.Displayed()).To(Equal("a"))

		renderer.Pause()
		Expect(renderer.Paused()).To(BeTrue())
		Expect(clock.Pending()).To(BeZero())
		clock.Advance(time.Second)
		Expect(renderer.Displayed()).To(Equal("a"))

		renderer.Update("abcdefgh", false)
		Expect(clock.Pending()).To(BeZero())

		renderer.Resume()
		clock.FireAll(100)
		Expect(renderer.Displayed()).To(Equal("abcdefgh"))
	})

	It("should continue revealing text that grew while paused after finishing", func() {
		renderer.Update("Hi", false)
		clock.Advance(time.Second)
		Expect(renderer.Displayed()).To(Equal("Hi"))
		Expect(renderer.State()).To(Equal(typewriter.StateDone))

		renderer.Pause()
		renderer.Update("Hi there", false)
		Expect(renderer.State()).To(Equal(typewriter.StateRevealing))
		Expect(clock.Pending()).To(BeZero())

		renderer.Resume()
		Expect(clock.Pending()).To(Equal(1))
		clock.Advance(10 * time.Second)
		Expect(renderer.Displayed()).To(Equal("Hi there"))
		Expect(renderer.State()).To(Equal(typewriter.StateDone))
	})

	It("should start revealing text that grew while paused during the initial delay", func() {
		renderer.Update("ab", false)
		Expect(renderer.State()).To(Equal(typewriter.StateDelaying))

		renderer.Pause()
		renderer.Update("abcd", false)
		Expect(renderer.Cursor()).To(BeZero())
		Expect(clock.Pending()).To(BeZero())

		renderer.Resume()
		clock.FireAll(100)
		Expect(renderer.Displayed()).To(Equal("abcd"))
	})

	It("should report finished after an explicit complete", func() {
		renderer.Update("partial reply", false)
		Expect(renderer.Finished()).To(BeFalse())

		renderer.Complete()
		Expect(renderer.Finished()).To(BeTrue())

		renderer.Update("partial reply grows", false)
		Expect(renderer.Finished()).To(BeFalse())
	})

	It("should stop ticking when closed", func() {
		renderer.Update("abc", false)
		renderer.Close()
		Expect(clock.Pending()).To(BeZero())
		renderer.Update("abcdef", false)
		Expect(renderer.Displayed()).To(BeEmpty())
	})

	It("should keep multi-byte runes intact", func() {
		renderer.Update("héllo wörld", false)
		for i := 0; i < 4; i++ {
			clock.FireAll(1)
			Expect([]rune(renderer.Displayed())).To(HaveLen(i + 1))
		}
	})

	Context("when animation is disabled", func() {
		BeforeEach(func() {
			cfg.Enabled = false
		})

		It("should show everything at once", func() {
			renderer.Update("no typing", false)
			Expect(renderer.Displayed()).To(Equal("no typing"))
			Expect(renderer.State()).To(Equal(typewriter.StateDone))
			Expect(clock.Pending()).To(BeZero())
		})
	})

	Context("with instant completion", func() {
		BeforeEach(func() {
			cfg.InstantComplete = true
		})

		It("should snap once the source is complete", func() {
			renderer.Update("streaming", false)
			clock.Advance(cfg.InitialDelay)
			Expect(renderer.Displayed()).To(Equal("s"))

			renderer.Update("streaming done", true)
			Expect(renderer.Displayed()).To(Equal("streaming done"))
			Expect(clock.Pending()).To(BeZero())
		})
	})

	Context("with a larger chunk size", func() {
		BeforeEach(func() {
			cfg.ChunkSize = 3
		})

		It("should reveal several runes per tick", func() {
			renderer.Update("abcdefg", false)
			clock.Advance(cfg.InitialDelay)
			Expect(renderer.Displayed()).To(Equal("abc"))
		})
	})
})
