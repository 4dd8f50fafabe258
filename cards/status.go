package cards

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"

	"github.com/okx/ethcards/units"
)

// ParticipantStatus is what an eth-card holds.
type ParticipantStatus struct {
	Address ethcmn.Address
	Oly     units.Amount
	Rdn     units.Amount
	Eth     units.Amount
}

// Funded reports whether all three balances are non-zero.
func (p ParticipantStatus) Funded() bool {
	return !p.Oly.IsZero() && !p.Rdn.IsZero() && !p.Eth.IsZero()
}

// Status reads the OLY, RDN and ether balances of every address at the latest block.
func (c *Chain) Status(ctx context.Context, addresses []ethcmn.Address) ([]ParticipantStatus, error) {
	out := make([]ParticipantStatus, 0, len(addresses))
	for _, addr := range addresses {
		oly, err := c.tokenBalance(ctx, c.cfg.Oly(), addr)
		if err != nil {
			return out, fmt.Errorf("OLY balance of %s: %w", addr.Hex(), err)
		}
		rdn, err := c.tokenBalance(ctx, c.cfg.Rdn(), addr)
		if err != nil {
			return out, fmt.Errorf("RDN balance of %s: %w", addr.Hex(), err)
		}
		wei, err := c.client.BalanceAt(ctx, addr, nil)
		if err != nil {
			return out, fmt.Errorf("ETH balance of %s: %w", addr.Hex(), err)
		}
		eth, err := units.FromBig(wei)
		if err != nil {
			return out, err
		}
		out = append(out, ParticipantStatus{Address: addr, Oly: oly, Rdn: rdn, Eth: eth})
	}
	c.log.Debug("Balances read", "participants", len(out))
	return out, nil
}

func (c *Chain) tokenBalance(ctx context.Context, token, owner ethcmn.Address) (units.Amount, error) {
	data, err := c.contracts.PackBalanceOf(owner)
	if err != nil {
		return units.Amount{}, err
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return units.Amount{}, err
	}
	bal, err := c.contracts.UnpackBalanceOf(raw)
	if err != nil {
		return units.Amount{}, err
	}
	return units.FromBig(bal)
}

// WriteStatus prints one line per participant, balances in whole tokens without
// rounding. Funded cards are green, the rest yellow.
func WriteStatus(w io.Writer, statuses []ParticipantStatus) error {
	funded := color.New(color.FgGreen).SprintFunc()
	missing := color.New(color.FgYellow).SprintFunc()
	addrColor := color.New(color.FgCyan).SprintFunc()

	for _, p := range statuses {
		paint := funded
		if !p.Funded() {
			paint = missing
		}
		line := fmt.Sprintf("%s OLY - %s RDN - %s ETH",
			p.Oly.Format(units.Ether), p.Rdn.Format(units.Ether), p.Eth.Format(units.Ether))
		if _, err := fmt.Fprintf(w, "%-42s %s\n", addrColor(p.Address.Hex()), paint(line)); err != nil {
			return err
		}
	}
	return nil
}
