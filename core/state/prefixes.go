package state

import "fmt"

var (
	contractPrefix      = []byte("contract/")
	contractIndexKey    = []byte("contract/index")
	pausePrefix         = []byte("pause/")
	quotaPrefix         = []byte("quota/")
	escrowPrefix        = []byte("escrow/agreement/")
	auctionPrefix       = []byte("auction/record/")
	commitmentKeyFormat = "auction/%x/commitment/%x"
	custodyKeyFormat    = "auction/%x/custody/%x"
	biddersKeyFormat    = "auction/%x/bidders"
)

func prefixed(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func contractKey(addr [20]byte) []byte { return prefixed(contractPrefix, addr[:]) }

func pauseKey(module string) []byte { return prefixed(pausePrefix, []byte(module)) }

func quotaKey(addr [20]byte) []byte { return prefixed(quotaPrefix, addr[:]) }

func escrowKey(addr [20]byte) []byte { return prefixed(escrowPrefix, addr[:]) }

func auctionKey(addr [20]byte) []byte { return prefixed(auctionPrefix, addr[:]) }

func commitmentKey(auction, bidder [20]byte) []byte {
	return []byte(fmt.Sprintf(commitmentKeyFormat, auction[:], bidder[:]))
}

func custodyKey(auction, bidder [20]byte) []byte {
	return []byte(fmt.Sprintf(custodyKeyFormat, auction[:], bidder[:]))
}

func biddersKey(auction [20]byte) []byte {
	return []byte(fmt.Sprintf(biddersKeyFormat, auction[:]))
}
