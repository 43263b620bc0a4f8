package escrow

import "math/big"

// Agreement is the single record held by a deployed escrow exchange. The
// seller and buyer slots hold the value each party currently has in custody;
// after delivery is reported they hold the settlement each party may withdraw.
type Agreement struct {
	Address    [20]byte
	Seller     [20]byte
	Buyer      [20]byte
	Price      *big.Int
	Sealed     bool
	Delivered  bool
	SellerSlot *big.Int
	BuyerSlot  *big.Int
	CreatedAt  uint64
}

// Role identifies which party of the agreement a caller is.
type Role uint8

const (
	RoleNone Role = iota
	RoleSeller
	RoleBuyer
)

func (r Role) String() string {
	switch r {
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	default:
		return "none"
	}
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Price = cloneBigInt(a.Price)
	clone.SellerSlot = cloneBigInt(a.SellerSlot)
	clone.BuyerSlot = cloneBigInt(a.BuyerSlot)
	return &clone
}

// RoleOf classifies the caller against the fixed parties.
func (a *Agreement) RoleOf(caller [20]byte) Role {
	switch caller {
	case a.Seller:
		return RoleSeller
	case a.Buyer:
		return RoleBuyer
	default:
		return RoleNone
	}
}

// SellerDeposit is the exact amount the seller must place in custody.
func (a *Agreement) SellerDeposit() *big.Int {
	return cloneBigInt(a.Price)
}

// BuyerDeposit is the exact amount the buyer must place in custody: twice the
// price.
func (a *Agreement) BuyerDeposit() *big.Int {
	return new(big.Int).Lsh(cloneBigInt(a.Price), 1)
}

// RequiredDeposit returns the deposit expected from the supplied role.
func (a *Agreement) RequiredDeposit(role Role) *big.Int {
	switch role {
	case RoleSeller:
		return a.SellerDeposit()
	case RoleBuyer:
		return a.BuyerDeposit()
	default:
		return big.NewInt(0)
	}
}

// Slot returns a copy of the custody slot owned by role.
func (a *Agreement) Slot(role Role) *big.Int {
	switch role {
	case RoleSeller:
		return cloneBigInt(a.SellerSlot)
	case RoleBuyer:
		return cloneBigInt(a.BuyerSlot)
	default:
		return big.NewInt(0)
	}
}

func (a *Agreement) setSlot(role Role, amount *big.Int) {
	switch role {
	case RoleSeller:
		a.SellerSlot = cloneBigInt(amount)
	case RoleBuyer:
		a.BuyerSlot = cloneBigInt(amount)
	}
}

// FullyFunded reports whether both slots hold their required deposits.
func (a *Agreement) FullyFunded() bool {
	return cloneBigInt(a.SellerSlot).Cmp(a.SellerDeposit()) == 0 &&
		cloneBigInt(a.BuyerSlot).Cmp(a.BuyerDeposit()) == 0
}

// Held returns the total value the agreement currently owes its parties.
func (a *Agreement) Held() *big.Int {
	return new(big.Int).Add(cloneBigInt(a.SellerSlot), cloneBigInt(a.BuyerSlot))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
