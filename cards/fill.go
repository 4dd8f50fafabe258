package cards

import (
	"context"
	"fmt"

	ethcmn "github.com/ethereum/go-ethereum/common"

	"github.com/okx/ethcards/dispatch"
	"github.com/okx/ethcards/units"
)

const (
	LabelSplitEther  = "split-ether"
	LabelSplitTokens = "split-tokens"
	LabelIssue       = "issue"
)

// Result holds the hashes of one run, per step, in submission order.
type Result struct {
	Approve     ethcmn.Hash
	SplitEther  []ethcmn.Hash
	SplitTokens []ethcmn.Hash
	Issue       []ethcmn.Hash

	// FailedChunk is the chunk a failed run stopped at, or -1. LastChunk is the last
	// chunk dispatched in the step that was running, or -1.
	FailedChunk int
	LastChunk   int
}

// ========================================
// Call builders
// ========================================

// SplitEtherCall sends each chunk's share of ether to the ether splitter.
func (c *Chain) SplitEtherCall() dispatch.CallBuilder {
	splitter := c.cfg.EtherSplitter()
	return func(chunk []ethcmn.Address, perAddress units.Amount) (dispatch.Call, error) {
		data, err := c.contracts.PackSplitEther(chunk)
		if err != nil {
			return dispatch.Call{}, err
		}
		value, err := perAddress.Mul(uint64(len(chunk)))
		if err != nil {
			return dispatch.Call{}, err
		}
		return dispatch.Call{To: splitter, Data: data, Value: value}, nil
	}
}

// SplitTokensCall has the token splitter pull perAddress RDN for every address of the
// chunk out of the sender's allowance.
func (c *Chain) SplitTokensCall() dispatch.CallBuilder {
	splitter, rdn := c.cfg.TokenSplitter(), c.cfg.Rdn()
	return func(chunk []ethcmn.Address, perAddress units.Amount) (dispatch.Call, error) {
		data, err := c.contracts.PackSplitTokens(chunk, rdn, perAddress.Big())
		if err != nil {
			return dispatch.Call{}, err
		}
		return dispatch.Call{To: splitter, Data: data}, nil
	}
}

// IssueCall mints perAddress OLY to every address of the chunk.
func (c *Chain) IssueCall() dispatch.CallBuilder {
	oly := c.cfg.Oly()
	return func(chunk []ethcmn.Address, perAddress units.Amount) (dispatch.Call, error) {
		data, err := c.contracts.PackIssue(chunk, perAddress.Big())
		if err != nil {
			return dispatch.Call{}, err
		}
		return dispatch.Call{To: oly, Data: data}, nil
	}
}

// ========================================
// Runs
// ========================================

// Fill approves the token splitter for the RDN of all addresses, then splits ether,
// splits RDN and issues OLY, stopping at the first failed step.
func (s *Session) Fill(ctx context.Context, addresses []ethcmn.Address) (*Result, error) {
	s.log.Info("Setting up participant eth-cards", "participants", len(addresses))
	return s.execute(func(run *dispatch.Run, d *dispatch.Dispatcher, res *Result) error {
		if len(addresses) == 0 {
			return nil
		}
		if err := s.approve(ctx, run, d, res, len(addresses), addresses); err != nil {
			return err
		}
		if err := s.splitEther(ctx, run, d, res, addresses); err != nil {
			return err
		}
		if err := s.splitTokens(ctx, run, d, res, addresses); err != nil {
			return err
		}
		return s.issue(ctx, run, d, res, addresses)
	})
}

// Approve grants the token splitter count × rdnPerAddress RDN and waits for it to be mined.
func (s *Session) Approve(ctx context.Context, count int) (*Result, error) {
	return s.execute(func(run *dispatch.Run, d *dispatch.Dispatcher, res *Result) error {
		return s.approve(ctx, run, d, res, count, nil)
	})
}

func (s *Session) SplitEther(ctx context.Context, addresses []ethcmn.Address) (*Result, error) {
	return s.execute(func(run *dispatch.Run, d *dispatch.Dispatcher, res *Result) error {
		return s.splitEther(ctx, run, d, res, addresses)
	})
}

// SplitTokens approves the allowance it needs before splitting.
func (s *Session) SplitTokens(ctx context.Context, addresses []ethcmn.Address) (*Result, error) {
	return s.execute(func(run *dispatch.Run, d *dispatch.Dispatcher, res *Result) error {
		if len(addresses) == 0 {
			return nil
		}
		if err := s.approve(ctx, run, d, res, len(addresses), addresses); err != nil {
			return err
		}
		return s.splitTokens(ctx, run, d, res, addresses)
	})
}

func (s *Session) Issue(ctx context.Context, addresses []ethcmn.Address) (*Result, error) {
	return s.execute(func(run *dispatch.Run, d *dispatch.Dispatcher, res *Result) error {
		return s.issue(ctx, run, d, res, addresses)
	})
}

// execute runs steps under a fresh Run and moves it to Completed or Failed.
func (s *Session) execute(steps func(*dispatch.Run, *dispatch.Dispatcher, *Result) error) (*Result, error) {
	run := dispatch.NewRun(s.log)
	d, err := s.newDispatcher(run)
	if err != nil {
		return nil, err
	}

	res := &Result{FailedChunk: -1, LastChunk: -1}
	if err := steps(run, d, res); err != nil {
		run.Fail(err)
		res.FailedChunk, _, _ = run.Failure()
		res.LastChunk = run.LastChunk()
		return res, err
	}
	if run.State() == dispatch.NotStarted {
		s.log.Info("Nothing to do")
		return res, nil
	}
	if err := run.Complete(); err != nil {
		return res, err
	}
	s.log.Info("Run completed", "splitEther", len(res.SplitEther), "splitTokens", len(res.SplitTokens), "issue", len(res.Issue))
	return res, nil
}

// approve grants the allowance for count participants. When addresses is the list
// the allowance funds and a journal is open, the approval is journaled under that
// split's job so a resumed run does not send it again.
func (s *Session) approve(ctx context.Context, run *dispatch.Run, d *dispatch.Dispatcher, res *Result, count int, addresses []ethcmn.Address) error {
	if count < 0 {
		return fmt.Errorf("participant count must not be negative, got %d", count)
	}
	if err := run.Approving(); err != nil {
		return err
	}
	cfg := s.chain.cfg
	total, err := cfg.RdnAmount().Mul(uint64(count))
	if err != nil {
		return err
	}
	s.log.Info("Approving token splitter", "participants", count, "rdn", total.Format(units.Ether))
	var scope string
	if s.journal != nil && len(addresses) > 0 {
		if scope, err = d.JobKey(LabelSplitTokens, addresses, cfg.RdnAmount(), s.chain.SplitTokensCall()); err != nil {
			return err
		}
	}
	hash, err := d.Approve(ctx, cfg.Rdn(), cfg.TokenSplitter(), total, scope)
	if err != nil {
		return err
	}
	res.Approve = hash
	if err := run.Distributing(); err != nil {
		return err
	}
	return nil
}

func (s *Session) splitEther(ctx context.Context, run *dispatch.Run, d *dispatch.Dispatcher, res *Result, addresses []ethcmn.Address) error {
	if err := run.Distributing(); err != nil {
		return err
	}
	hashes, err := d.Dispatch(ctx, LabelSplitEther, addresses, s.chain.cfg.EtherAmount(), s.chain.SplitEtherCall())
	res.SplitEther = hashes
	return err
}

func (s *Session) splitTokens(ctx context.Context, run *dispatch.Run, d *dispatch.Dispatcher, res *Result, addresses []ethcmn.Address) error {
	if err := run.Distributing(); err != nil {
		return err
	}
	hashes, err := d.Dispatch(ctx, LabelSplitTokens, addresses, s.chain.cfg.RdnAmount(), s.chain.SplitTokensCall())
	res.SplitTokens = hashes
	return err
}

func (s *Session) issue(ctx context.Context, run *dispatch.Run, d *dispatch.Dispatcher, res *Result, addresses []ethcmn.Address) error {
	if err := run.Distributing(); err != nil {
		return err
	}
	hashes, err := d.Dispatch(ctx, LabelIssue, addresses, s.chain.cfg.OlyAmount(), s.chain.IssueCall())
	res.Issue = hashes
	return err
}
