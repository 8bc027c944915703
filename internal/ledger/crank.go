package ledger

import (
	"fmt"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/state"
)

// CachePrices reads each oracle index and stamps the cached price with the
// operation time. Any unreadable price fails the whole call.
func CachePrices(env *host.Env, oracle host.Oracle, indexes []int) error {
	g, mc := env.Group, env.Cache
	log := &event.CachePricesLog{}
	for _, i := range indexes {
		if err := g.CheckMarketIndex(i); err != nil {
			return err
		}
		price, _, err := oracle.Price(i)
		if err != nil {
			return fmt.Errorf("cache price %d: %w", i, err)
		}
		log.OracleIndexes = append(log.OracleIndexes, i)
		log.OldPrices = append(log.OldPrices, mc.Prices[i].Price)
		log.NewPrices = append(log.NewPrices, price)
		mc.Prices[i] = state.PriceCache{Price: price, LastUpdate: env.Now}
	}
	env.Emit(log)
	return nil
}

// CacheRootBanks copies the current interest indexes of each token.
func CacheRootBanks(env *host.Env, tokens []int) error {
	g, mc := env.Group, env.Cache
	log := &event.CacheRootBanksLog{}
	for _, t := range tokens {
		if err := g.CheckTokenIndex(t); err != nil {
			return err
		}
		bank := g.Tokens[t].RootBank
		mc.RootBanks[t] = bank.Cache(env.Now)
		log.TokenIndexes = append(log.TokenIndexes, t)
		log.DepositIndexes = append(log.DepositIndexes, bank.DepositIndex)
		log.BorrowIndexes = append(log.BorrowIndexes, bank.BorrowIndex)
	}
	env.Emit(log)
	return nil
}

// CachePerpMarkets copies the funding accumulators of each market.
func CachePerpMarkets(env *host.Env, markets []*state.PerpMarket) error {
	g, mc := env.Group, env.Cache
	log := &event.CachePerpMarketsLog{}
	for _, m := range markets {
		if err := g.CheckPerpMarket(m.Index); err != nil {
			return err
		}
		mc.PerpMarkets[m.Index] = m.Cache(env.Now)
		log.MarketIndexes = append(log.MarketIndexes, m.Index)
		log.LongFundings = append(log.LongFundings, m.LongFunding)
		log.ShortFundings = append(log.ShortFundings, m.ShortFunding)
	}
	env.Emit(log)
	return nil
}

// UpdateRootBank accrues interest on token up to the operation time. The
// cache is not touched; CacheRootBanks publishes the new indexes.
func UpdateRootBank(env *host.Env, token int) error {
	if err := env.Group.CheckTokenIndex(token); err != nil {
		return err
	}
	bank := env.Group.Tokens[token].RootBank
	bank.UpdateIndex(env.Now)
	env.Emit(&event.UpdateRootBankLog{Token: token, DepositIndex: bank.DepositIndex, BorrowIndex: bank.BorrowIndex})
	return nil
}
