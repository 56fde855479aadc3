package contracts

// CollectionABI is the ABI surface of the ERC-721 collection contract used
// by this application: enumeration, metadata, approval and the mint gate.
const CollectionABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mintPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isWhitelisted","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"mint","stateMutability":"payable","inputs":[{"name":"quantity","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

// StakingABI is the ABI surface of the staking contract. Besides the
// canonical views it declares every legacy view name older deployments
// exposed for staked-token discovery, so the reconciliation engine can
// probe them and treat a missing method as an ordinary failed call.
const StakingABI = `[
  {"type":"function","name":"stakedNFTs","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"rewards","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"dailyRewardCap","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getTotalStakedNFTs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isStaker","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"vault","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"},{"name":"stakedAt","type":"uint256"},{"name":"staked","type":"bool"}]},
  {"type":"function","name":"getStakedTokens","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getStaked","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"stakedTokens","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"stakerToTokenId","stateMutability":"view","inputs":[{"name":"staker","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tokenIdToStaker","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"isStaked","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"stakerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"stakeNFT","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"unstakeAndRemove","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"depositRewards","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"updateDailyRewardCap","stateMutability":"nonpayable","inputs":[{"name":"newCap","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"initiateEmergencyWithdraw","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"completeEmergencyWithdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"event","name":"Staked","anonymous":false,"inputs":[{"name":"staker","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
  {"type":"event","name":"Unstaked","anonymous":false,"inputs":[{"name":"staker","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
  {"type":"event","name":"RewardsClaimed","anonymous":false,"inputs":[{"name":"staker","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`
