// Package contracts holds typed bindings for the protocol contracts the reconciler talks to.
package contracts

// VaultManagerABI covers the intent entry points and intent creation events.
//
//	function executeMintIntent(bytes32 intentId, uint256 depositId) external;
//	function executeRedeemIntent(bytes32 intentId) external;
//	event MintIntentCreated(bytes32 indexed intentId, address indexed user, ...);
//	event RedeemIntentCreated(bytes32 indexed intentId, address indexed user, ...);
const VaultManagerABI = `[
	{
		"type": "function",
		"name": "executeMintIntent",
		"inputs": [
			{"name": "intentId", "type": "bytes32"},
			{"name": "depositId", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "executeRedeemIntent",
		"inputs": [
			{"name": "intentId", "type": "bytes32"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "MintIntentCreated",
		"inputs": [
			{"name": "intentId", "type": "bytes32", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "depositAsset", "type": "address", "indexed": false},
			{"name": "depositAmount", "type": "uint256", "indexed": false},
			{"name": "lockedNAV", "type": "uint256", "indexed": false},
			{"name": "expectedShield", "type": "uint256", "indexed": false},
			{"name": "executionFee", "type": "uint256", "indexed": false},
			{"name": "expiresAt", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "RedeemIntentCreated",
		"inputs": [
			{"name": "intentId", "type": "bytes32", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "outputAsset", "type": "address", "indexed": false},
			{"name": "shieldAmount", "type": "uint256", "indexed": false},
			{"name": "lockedNAV", "type": "uint256", "indexed": false},
			{"name": "expectedStablecoin", "type": "uint256", "indexed": false},
			{"name": "executionFee", "type": "uint256", "indexed": false},
			{"name": "expiresAt", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	}
]`

// BasketManagerABI covers basket reads, the admin weight path and the completion events.
const BasketManagerABI = `[
	{
		"type": "function",
		"name": "getPendingDeposit",
		"inputs": [{"name": "depositId", "type": "uint256"}],
		"outputs": [
			{"name": "user", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "intentIds", "type": "bytes32[]"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getPendingWithdrawal",
		"inputs": [{"name": "withdrawalId", "type": "uint256"}],
		"outputs": [
			{"name": "user", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "intentIds", "type": "bytes32[]"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getBasketLength",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getBasketAllocation",
		"inputs": [{"name": "index", "type": "uint256"}],
		"outputs": [
			{"name": "token", "type": "address"},
			{"name": "weightBps", "type": "uint256"},
			{"name": "positionKey", "type": "bytes32"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "totalTargetWeights",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getStablecoinReserves",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "totalSupply",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "updateBasketWeight",
		"inputs": [
			{"name": "basketIndex", "type": "uint256"},
			{"name": "newWeightBps", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "rebalancePositions",
		"inputs": [],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "DepositProcessed",
		"inputs": [
			{"name": "depositId", "type": "uint256", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "success", "type": "bool", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "WithdrawalProcessed",
		"inputs": [
			{"name": "withdrawalId", "type": "uint256", "indexed": true},
			{"name": "user", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "success", "type": "bool", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "BasketAllocationUpdated",
		"inputs": [
			{"name": "basketIndex", "type": "uint256", "indexed": true},
			{"name": "oldWeightBps", "type": "uint256", "indexed": false},
			{"name": "newWeightBps", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "RebalanceExecuted",
		"inputs": [
			{"name": "fromToken", "type": "address", "indexed": true},
			{"name": "toToken", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	}
]`

// PositionReaderABI reads perpetual position collateral values (30 decimals, USD).
const PositionReaderABI = `[
	{
		"type": "function",
		"name": "getPositionCollateralValue",
		"inputs": [{"name": "positionKey", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

// BasketOracleABI accepts NAV figures signed by the hot wallet.
// The oracle recovers the signer from toEthSignedMessageHash(keccak256(abi.encodePacked(nav, tmv, supply, timestamp))).
const BasketOracleABI = `[
	{
		"type": "function",
		"name": "submitNAV",
		"inputs": [
			{"name": "navPerToken", "type": "uint256"},
			{"name": "totalManagedValue", "type": "uint256"},
			{"name": "shieldSupply", "type": "uint256"},
			{"name": "timestamp", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`
